// Package extractor runs the incremental extraction loop shared by
// every platform: page through a feed of saved items, skip what the
// archive already holds, optionally download media, and persist the
// rest.
//
// The loop is platform-agnostic. Platforms plug in through three small
// interfaces: Feed pages items out of the remote service, Sink answers
// existence questions and persists items, and MediaFetcher resolves
// remote files to local paths. Request pacing comes from an adaptive
// delay policy consulted before every remote request, and the session
// request budget bounds how many fresh items a single run may handle.
// Transient page fetch failures are retried in place; auth loss,
// storage loss, and too many consecutive item failures end the run.
//
// A run always produces a Summary, even when it ends in an error, so
// callers can report partial progress.
package extractor

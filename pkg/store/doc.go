// Package store is the persistence layer for the local archive. It
// owns the SQLite schema, transactional upserts of posts and messages
// together with their hashtag and mention rows, the batched existence
// lookups used to deduplicate extraction runs, and storage of
// classification results.
//
// All multi-row writes for one logical item happen inside a single
// transaction, so a failed child insert never leaves a partial item
// behind. Schema changes are forward-only and additive; migrate is
// safe to run against an already-migrated archive.
package store

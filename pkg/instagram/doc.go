// Package instagram talks to the Instagram web API to pull the
// authenticated account's saved posts.
//
// The package provides an HTTP client with browser-like headers and
// typed error mapping, the GraphQL saved-media feed with cursor
// pagination, and the login flow that trades credentials (plus an
// optional two-factor code) for a reusable session cookie.
//
// SavedFeed implements the extraction loop's Feed interface and
// StoreSink bridges items into the archive, so the package slots
// directly into an extractor run.
package instagram

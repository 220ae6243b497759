package extractor

import (
	"context"
	"errors"
	"time"

	"postvault/pkg/media"
)

// ErrFeedExhausted is returned by NextPage when the feed has no more
// pages to serve.
var ErrFeedExhausted = errors.New("feed exhausted")

// Item is one saved thing flowing through the extraction loop.
type Item interface {
	// Key is the stable platform identifier used for deduplication
	Key() string

	// TakenAt is when the item was created on the platform
	TakenAt() time.Time

	// MediaRefs lists the remote files the item carries
	MediaRefs() []media.Ref

	// SetMediaPaths records resolved local paths before persisting
	SetMediaPaths(paths []string)
}

// Feed pages through a platform's saved items, newest first. Each
// NextPage call performs one remote request.
type Feed interface {
	NextPage(ctx context.Context) ([]Item, error)
}

// Sink persists items into the archive and answers existence
// questions against it.
type Sink interface {
	// FilterNew returns the subset of keys not yet in the archive
	FilterNew(keys []string) ([]string, error)

	// Exists reports whether a single key is already archived
	Exists(key string) (bool, error)

	// Persist upserts one item and reports whether a row was created
	Persist(ctx context.Context, item Item, force bool) (bool, error)
}

// MediaFetcher resolves one remote media ref to a local file path.
type MediaFetcher interface {
	Fetch(ctx context.Context, ref media.Ref, externalID string, takenAt time.Time) (string, error)
}

// Session tracks the request budget for a run and persists the
// platform session on close. Invalidate drops the cached token when
// the platform rejects the session mid-run.
type Session interface {
	Track() error
	Invalidate() error
	Close() error
}

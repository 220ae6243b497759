package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postvault/pkg/backoff"
	errs "postvault/pkg/errors"
	"postvault/pkg/logger"
	"postvault/pkg/retry"
	"postvault/pkg/session"
)

const (
	defaultMaxConsecutiveErrors = 10

	// maxPageAttempts bounds the retries of one feed page on
	// transient fetch failures
	maxPageAttempts = 5
)

// Options controls one extraction run
type Options struct {
	// Limit stops the run after this many newly archived items, 0
	// means no limit
	Limit int

	// Force re-persists items the archive already holds
	Force bool

	// FetchMedia downloads the files items reference
	FetchMedia bool

	// MaxConsecutiveErrors aborts the run when this many item
	// failures happen back to back, 0 uses the default of 10
	MaxConsecutiveErrors int
}

// Summary reports what one run did. It is populated even when the run
// ends in an error so callers can show partial progress.
type Summary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
	Total     int `json:"total"`
}

// Extractor orchestrates the incremental extraction loop for one
// platform
type Extractor struct {
	platform string
	feed     Feed
	sink     Sink
	session  Session
	media    MediaFetcher
	policy   backoff.Policy
	opts     Options
	logger   logger.Logger
	tracker  stateTracker
	wait     func(ctx context.Context, d time.Duration) error
}

// New creates an extractor for one platform run
func New(platform string, feed Feed, sink Sink, sess Session, opts Options, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = defaultMaxConsecutiveErrors
	}

	e := &Extractor{
		platform: platform,
		feed:     feed,
		sink:     sink,
		session:  sess,
		opts:     opts,
		logger:   log,
		wait:     retry.Wait,
	}
	e.tracker.set(StateInit)
	return e
}

// WithMediaFetcher attaches the media downloader used when
// Options.FetchMedia is set
func (e *Extractor) WithMediaFetcher(f MediaFetcher) *Extractor {
	e.media = f
	return e
}

// WithDelayPolicy sets the pacing policy consulted before each remote
// request
func (e *Extractor) WithDelayPolicy(p backoff.Policy) *Extractor {
	e.policy = p
	return e
}

// State returns the loop's current lifecycle phase
func (e *Extractor) State() State {
	return e.tracker.get()
}

// Run pages through the feed until it is exhausted, the item limit or
// request budget is reached, or a fatal error occurs. Fatal means auth
// loss, storage unavailability, the consecutive-error cap, or a page
// that keeps failing past its retry bound; transient fetch errors are
// retried in place. The session is closed on every exit path.
func (e *Extractor) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	consecutiveErrors := 0
	recentErrors := 0
	requestCount := 0
	pages := 0

	defer func() {
		if err := e.session.Close(); err != nil {
			e.logger.WarnWithFields("failed to close session", map[string]interface{}{
				"platform": e.platform,
				"error":    err.Error(),
			})
		}
	}()

	e.logger.InfoWithFields("starting extraction", map[string]interface{}{
		"platform":    e.platform,
		"limit":       e.opts.Limit,
		"force":       e.opts.Force,
		"fetch_media": e.opts.FetchMedia,
	})

	finish := func(err error) (Summary, error) {
		summary.Total = summary.Processed + summary.Skipped + summary.Errors
		e.tracker.set(StateStopping)
		fields := map[string]interface{}{
			"platform":  e.platform,
			"processed": summary.Processed,
			"skipped":   summary.Skipped,
			"errors":    summary.Errors,
			"total":     summary.Total,
		}
		if err != nil {
			fields["error"] = err.Error()
			e.tracker.set(StateFailed)
			e.logger.ErrorWithFields("extraction failed", fields)
		} else {
			e.tracker.set(StateDone)
			e.logger.InfoWithFields("extraction finished", fields)
		}
		return summary, err
	}

	// pace sleeps the policy delay before every remote request after
	// the first, keyed to the current processed and error counts so
	// the penalty checkpoints fire at their item marks
	pace := func() error {
		if requestCount == 0 {
			requestCount++
			return nil
		}
		requestCount++
		delay := e.policy.NextDelay(summary.Processed, recentErrors)
		if delay <= 0 {
			return nil
		}
		e.logger.DebugWithFields("pacing before next request", map[string]interface{}{
			"platform":      e.platform,
			"delay":         delay,
			"recent_errors": recentErrors,
		})
		return e.wait(ctx, delay)
	}

	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		e.tracker.set(StateFetching)

		items, err := e.fetchPage(ctx, pace, &recentErrors)
		if err != nil {
			if errors.Is(err, ErrFeedExhausted) {
				e.logger.InfoWithFields("feed exhausted", map[string]interface{}{
					"platform": e.platform,
					"pages":    pages,
				})
				return finish(nil)
			}
			return finish(err)
		}
		pages++

		if len(items) == 0 {
			continue
		}

		e.tracker.set(StateProcessing)

		keys := make([]string, 0, len(items))
		for _, item := range items {
			keys = append(keys, item.Key())
		}

		freshSet := make(map[string]struct{}, len(items))
		if e.opts.Force {
			for _, key := range keys {
				freshSet[key] = struct{}{}
			}
		} else {
			fresh, err := e.sink.FilterNew(keys)
			if err != nil {
				return finish(fmt.Errorf("archive unavailable: %w", err))
			}
			for _, key := range fresh {
				freshSet[key] = struct{}{}
			}
		}

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return finish(err)
			}
			if e.opts.Limit > 0 && summary.Processed >= e.opts.Limit {
				e.logger.InfoWithFields("item limit reached", map[string]interface{}{
					"platform": e.platform,
					"limit":    e.opts.Limit,
				})
				return finish(nil)
			}

			key := item.Key()
			if _, ok := freshSet[key]; !ok {
				summary.Skipped++
				e.logger.DebugWithFields("skipping archived item", map[string]interface{}{
					"platform": e.platform,
					"key":      key,
				})
				continue
			}

			// Each fresh item costs one request against the session
			// budget and one consultation of the delay policy
			if err := e.session.Track(); err != nil {
				if errors.Is(err, session.ErrRequestBudgetExhausted) {
					e.logger.InfoWithFields("request budget exhausted, stopping", map[string]interface{}{
						"platform": e.platform,
					})
					return finish(nil)
				}
				return finish(err)
			}
			if err := pace(); err != nil {
				return finish(err)
			}

			if e.opts.FetchMedia && e.media != nil {
				if paths := e.fetchItemMedia(ctx, item); len(paths) > 0 {
					item.SetMediaPaths(paths)
				}
			}

			// Guard against a concurrent writer between the batch
			// filter and the upsert
			if !e.opts.Force {
				exists, err := e.sink.Exists(key)
				if err != nil {
					return finish(fmt.Errorf("archive unavailable: %w", err))
				}
				if exists {
					summary.Skipped++
					continue
				}
			}

			if _, err := e.sink.Persist(ctx, item, e.opts.Force); err != nil {
				summary.Errors++
				consecutiveErrors++
				recentErrors++
				e.logger.ErrorWithFields("failed to persist item", map[string]interface{}{
					"platform":           e.platform,
					"key":                key,
					"error":              err.Error(),
					"consecutive_errors": consecutiveErrors,
				})
				if consecutiveErrors >= e.opts.MaxConsecutiveErrors {
					return finish(fmt.Errorf("aborting after %d consecutive item failures: %w", consecutiveErrors, err))
				}
				continue
			}

			summary.Processed++
			consecutiveErrors = 0
			if recentErrors > 0 {
				recentErrors--
			}
		}
	}
}

// fetchPage pulls the next feed page, retrying transient failures in
// place with the delay policy slowed by the growing error count. Auth
// loss drops the cached session and fails the run immediately; any
// other error gives up after maxPageAttempts.
func (e *Extractor) fetchPage(ctx context.Context, pace func() error, recentErrors *int) ([]Item, error) {
	for attempt := 1; ; attempt++ {
		if err := pace(); err != nil {
			return nil, err
		}

		items, err := e.feed.NextPage(ctx)
		if err == nil || errors.Is(err, ErrFeedExhausted) {
			return items, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var apiErr *errs.Error
		if errors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeAuth {
			e.logger.ErrorWithFields("session no longer valid", map[string]interface{}{
				"platform": e.platform,
			})
			if ierr := e.session.Invalidate(); ierr != nil {
				e.logger.WarnWithFields("failed to drop cached session", map[string]interface{}{
					"platform": e.platform,
					"error":    ierr.Error(),
				})
			}
			return nil, fmt.Errorf("failed to fetch page: %w", err)
		}

		*recentErrors++
		if attempt >= maxPageAttempts {
			return nil, fmt.Errorf("failed to fetch page after %d attempts: %w", attempt, err)
		}
		e.logger.WarnWithFields("page fetch failed, retrying", map[string]interface{}{
			"platform":      e.platform,
			"attempt":       attempt,
			"recent_errors": *recentErrors,
			"error":         err.Error(),
		})
	}
}

// fetchItemMedia downloads every ref an item carries. A failed
// download drops that file only, the item itself still gets archived.
func (e *Extractor) fetchItemMedia(ctx context.Context, item Item) []string {
	refs := item.MediaRefs()
	if len(refs) == 0 {
		return nil
	}

	paths := make([]string, 0, len(refs))
	for _, ref := range refs {
		localPath, err := e.media.Fetch(ctx, ref, item.Key(), item.TakenAt())
		if err != nil {
			e.logger.WarnWithFields("media download failed, keeping item without file", map[string]interface{}{
				"platform": e.platform,
				"key":      item.Key(),
				"url":      ref.URL,
				"error":    err.Error(),
			})
			continue
		}
		paths = append(paths, localPath)
	}
	return paths
}

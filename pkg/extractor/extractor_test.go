package extractor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"postvault/pkg/backoff"
	errs "postvault/pkg/errors"
	"postvault/pkg/logger"
	"postvault/pkg/media"
	"postvault/pkg/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeItem is a minimal feed item for loop tests
type fakeItem struct {
	key        string
	takenAt    time.Time
	refs       []media.Ref
	mediaPaths []string
}

func (i *fakeItem) Key() string            { return i.key }
func (i *fakeItem) TakenAt() time.Time     { return i.takenAt }
func (i *fakeItem) MediaRefs() []media.Ref { return i.refs }

func (i *fakeItem) SetMediaPaths(paths []string) { i.mediaPaths = paths }

// fakeFeed serves predefined pages then reports exhaustion. Errors
// are keyed by call index and do not advance the page cursor, so a
// retried call serves the page the failed one missed.
type fakeFeed struct {
	pages    [][]Item
	pageErrs map[int]error
	calls    int
	page     int
}

func (f *fakeFeed) NextPage(ctx context.Context) ([]Item, error) {
	call := f.calls
	f.calls++
	if err, ok := f.pageErrs[call]; ok {
		return nil, err
	}
	if f.page >= len(f.pages) {
		return nil, ErrFeedExhausted
	}
	items := f.pages[f.page]
	f.page++
	return items, nil
}

// fakeSink records persists against an in-memory archive
type fakeSink struct {
	archived     map[string]bool
	persistCalls []string
	forceCalls   int
	persistErrs  map[string]error
	filterErr    error
	existsErr    error
}

func newFakeSink(existing ...string) *fakeSink {
	s := &fakeSink{
		archived:    make(map[string]bool),
		persistErrs: make(map[string]error),
	}
	for _, key := range existing {
		s.archived[key] = true
	}
	return s
}

func (s *fakeSink) FilterNew(keys []string) ([]string, error) {
	if s.filterErr != nil {
		return nil, s.filterErr
	}
	var fresh []string
	for _, key := range keys {
		if !s.archived[key] {
			fresh = append(fresh, key)
		}
	}
	return fresh, nil
}

func (s *fakeSink) Exists(key string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.archived[key], nil
}

func (s *fakeSink) Persist(ctx context.Context, item Item, force bool) (bool, error) {
	if err, ok := s.persistErrs[item.Key()]; ok {
		return false, err
	}
	s.persistCalls = append(s.persistCalls, item.Key())
	if force {
		s.forceCalls++
	}
	created := !s.archived[item.Key()]
	s.archived[item.Key()] = true
	return created, nil
}

// fakeSession enforces an optional request budget
type fakeSession struct {
	budget      int
	requests    int
	invalidated int
	closed      int
}

func (s *fakeSession) Track() error {
	if s.budget > 0 && s.requests >= s.budget {
		return session.ErrRequestBudgetExhausted
	}
	s.requests++
	return nil
}

func (s *fakeSession) Invalidate() error {
	s.invalidated++
	return nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

// fakeMediaFetcher resolves refs to synthetic paths
type fakeMediaFetcher struct {
	calls   int
	failURL string
}

func (f *fakeMediaFetcher) Fetch(ctx context.Context, ref media.Ref, externalID string, takenAt time.Time) (string, error) {
	f.calls++
	if ref.URL == f.failURL {
		return "", errs.New(errs.ErrorTypeNetwork, "download timed out")
	}
	return "/downloads/" + externalID + ".jpg", nil
}

func page(keys ...string) []Item {
	items := make([]Item, 0, len(keys))
	for _, key := range keys {
		items = append(items, &fakeItem{key: key, takenAt: time.Now()})
	}
	return items
}

func newTestExtractor(feed Feed, sink Sink, sess Session, opts Options) *Extractor {
	return New("instagram", feed, sink, sess, opts, logger.NewTestLogger())
}

func TestRunArchivesFreshItems(t *testing.T) {
	feed := &fakeFeed{pages: [][]Item{page("A", "B", "C"), page("D", "E")}}
	sink := newFakeSink()
	sess := &fakeSession{}

	extractor := newTestExtractor(feed, sink, sess, Options{})
	summary, err := extractor.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 5, Skipped: 0, Errors: 0, Total: 5}, summary)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, sink.persistCalls)
	assert.Equal(t, StateDone, extractor.State())
	assert.Equal(t, 1, sess.closed)
}

func TestRunSkipsArchivedItems(t *testing.T) {
	feed := &fakeFeed{pages: [][]Item{page("A", "B", "C", "D", "E")}}
	sink := newFakeSink("A", "B", "C", "D", "E")
	sess := &fakeSession{}

	summary, err := newTestExtractor(feed, sink, sess, Options{}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 0, Skipped: 5, Errors: 0, Total: 5}, summary)
	assert.Empty(t, sink.persistCalls)
}

func TestRunForceRearchivesWithoutDuplicates(t *testing.T) {
	feed := &fakeFeed{pages: [][]Item{page("A", "B", "C")}}
	sink := newFakeSink("A", "B", "C")
	sess := &fakeSession{}

	summary, err := newTestExtractor(feed, sink, sess, Options{Force: true}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 3, Skipped: 0, Errors: 0, Total: 3}, summary)
	assert.Equal(t, 3, sink.forceCalls)
	assert.Len(t, sink.archived, 3)
}

func TestRunMixedPageCountsBoth(t *testing.T) {
	feed := &fakeFeed{pages: [][]Item{page("NEW1", "HAVE1", "NEW2", "HAVE2")}}
	sink := newFakeSink("HAVE1", "HAVE2")
	sess := &fakeSession{}

	summary, err := newTestExtractor(feed, sink, sess, Options{}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 2, Skipped: 2, Errors: 0, Total: 4}, summary)
	assert.Equal(t, []string{"NEW1", "NEW2"}, sink.persistCalls)
}

func TestRunStopsAtItemLimit(t *testing.T) {
	feed := &fakeFeed{pages: [][]Item{page("A", "B", "C", "D")}}
	sink := newFakeSink()
	sess := &fakeSession{}

	summary, err := newTestExtractor(feed, sink, sess, Options{Limit: 2}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, []string{"A", "B"}, sink.persistCalls)
}

func TestRunStopsWhenBudgetExhausted(t *testing.T) {
	feed := &fakeFeed{pages: [][]Item{page("A", "B"), page("C", "D"), page("E", "F")}}
	sink := newFakeSink()
	sess := &fakeSession{budget: 3}

	extractor := newTestExtractor(feed, sink, sess, Options{})
	summary, err := extractor.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, sess.requests)
	assert.Equal(t, []string{"A", "B", "C"}, sink.persistCalls)
	assert.Equal(t, StateDone, extractor.State())
	assert.Equal(t, 1, sess.closed)
}

func TestRunSkippedItemsSpendNoBudget(t *testing.T) {
	feed := &fakeFeed{pages: [][]Item{page("HAVE1", "HAVE2", "NEW1")}}
	sink := newFakeSink("HAVE1", "HAVE2")
	sess := &fakeSession{budget: 1}

	summary, err := newTestExtractor(feed, sink, sess, Options{}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Skipped: 2, Errors: 0, Total: 3}, summary)
	assert.Equal(t, 1, sess.requests)
}

func TestRunItemFailureContinues(t *testing.T) {
	feed := &fakeFeed{pages: [][]Item{page("A", "BAD", "C")}}
	sink := newFakeSink()
	sink.persistErrs["BAD"] = fmt.Errorf("constraint violation")
	sess := &fakeSession{}

	summary, err := newTestExtractor(feed, sink, sess, Options{}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 2, Skipped: 0, Errors: 1, Total: 3}, summary)
	assert.Equal(t, []string{"A", "C"}, sink.persistCalls)
}

func TestRunAbortsAfterConsecutiveFailures(t *testing.T) {
	keys := make([]string, 5)
	sink := newFakeSink()
	for i := range keys {
		keys[i] = fmt.Sprintf("BAD%d", i)
		sink.persistErrs[keys[i]] = fmt.Errorf("disk full")
	}
	feed := &fakeFeed{pages: [][]Item{page(keys...)}}
	sess := &fakeSession{}

	extractor := newTestExtractor(feed, sink, sess, Options{MaxConsecutiveErrors: 3})
	summary, err := extractor.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 consecutive")
	assert.Equal(t, 3, summary.Errors)
	assert.Equal(t, summary.Errors, summary.Total)
	assert.Equal(t, StateFailed, extractor.State())
	assert.Equal(t, 1, sess.closed)
}

func TestRunSuccessResetsConsecutiveCounter(t *testing.T) {
	sink := newFakeSink()
	sink.persistErrs["BAD1"] = fmt.Errorf("boom")
	sink.persistErrs["BAD2"] = fmt.Errorf("boom")
	feed := &fakeFeed{pages: [][]Item{page("BAD1", "OK1", "BAD2", "OK2")}}
	sess := &fakeSession{}

	summary, err := newTestExtractor(feed, sink, sess, Options{MaxConsecutiveErrors: 2}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 2, Skipped: 0, Errors: 2, Total: 4}, summary)
}

func TestRunAuthLossIsFatal(t *testing.T) {
	feed := &fakeFeed{
		pages:    [][]Item{page("A")},
		pageErrs: map[int]error{1: errs.NewWithCode(errs.ErrorTypeAuth, "authentication required", 401)},
	}
	sink := newFakeSink()
	sess := &fakeSession{}

	extractor := newTestExtractor(feed, sink, sess, Options{})
	summary, err := extractor.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, sess.invalidated)
	assert.Equal(t, StateFailed, extractor.State())
	assert.Equal(t, 1, sess.closed)
}

func TestRunTransientFetchErrorIsRecovered(t *testing.T) {
	// A single rate-limit signal between two good pages must not end
	// the run; the page is retried and the remaining items arrive
	feed := &fakeFeed{
		pages:    [][]Item{page("A", "B"), page("C")},
		pageErrs: map[int]error{1: errs.NewWithCode(errs.ErrorTypeRateLimit, "rate limit exceeded", 429)},
	}
	sink := newFakeSink()
	sess := &fakeSession{}

	extractor := newTestExtractor(feed, sink, sess, Options{})
	summary, err := extractor.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 3, Skipped: 0, Errors: 0, Total: 3}, summary)
	assert.Equal(t, []string{"A", "B", "C"}, sink.persistCalls)
	assert.Equal(t, 4, feed.calls)
	assert.Equal(t, 0, sess.invalidated)
	assert.Equal(t, StateDone, extractor.State())
}

func TestRunFetchErrorSlowsTheNextAttempt(t *testing.T) {
	feed := &fakeFeed{
		pages:    [][]Item{page("A")},
		pageErrs: map[int]error{0: errs.New(errs.ErrorTypeNetwork, "connection reset")},
	}
	sink := newFakeSink()

	extractor := newTestExtractor(feed, sink, &fakeSession{}, Options{}).
		WithDelayPolicy(backoff.Policy{MinDelay: time.Second, MaxDelay: time.Minute, ErrorFactor: 1})
	var waits []time.Duration
	extractor.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := extractor.Run(context.Background())

	require.NoError(t, err)
	// The retry sees the bumped error count: MinDelay * (1 + 1*1)
	require.NotEmpty(t, waits)
	assert.Equal(t, 2*time.Second, waits[0])
}

func TestRunGivesUpAfterRepeatedFetchFailures(t *testing.T) {
	netErr := errs.New(errs.ErrorTypeNetwork, "connection refused")
	feed := &fakeFeed{
		pages:    [][]Item{page("A")},
		pageErrs: map[int]error{0: netErr, 1: netErr, 2: netErr, 3: netErr, 4: netErr},
	}
	sink := newFakeSink()
	sess := &fakeSession{}

	extractor := newTestExtractor(feed, sink, sess, Options{})
	summary, err := extractor.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 5 attempts")
	assert.Equal(t, 5, feed.calls)
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, StateFailed, extractor.State())
	assert.Equal(t, 1, sess.closed)
}

func TestRunPacesEveryFreshItem(t *testing.T) {
	keys := make([]string, 12)
	for i := range keys {
		keys[i] = fmt.Sprintf("K%d", i)
	}
	feed := &fakeFeed{pages: [][]Item{page(keys...)}}
	sink := newFakeSink()

	policy := backoff.Policy{
		MinDelay:     time.Second,
		MaxDelay:     time.Minute,
		StepEvery:    10,
		PenaltyEvery: 10,
		PenaltyMin:   5 * time.Second,
		PenaltyMax:   5 * time.Second,
	}
	extractor := newTestExtractor(feed, sink, &fakeSession{}, Options{}).WithDelayPolicy(policy)
	var waits []time.Duration
	extractor.wait = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	summary, err := extractor.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 12, summary.Processed)

	// The page fetch is the first request and sleeps nothing. Every
	// fresh item after it is paced, plus the final page fetch that
	// reports exhaustion: 13 paced requests in total.
	require.Len(t, waits, 13)

	// The medium penalty pause lands exactly once, before the item
	// that follows the 10th processed one
	assert.Equal(t, 6*time.Second, waits[10])
	assert.Equal(t, time.Second, waits[0])
	assert.Equal(t, time.Second, waits[9])
	assert.Equal(t, time.Second, waits[11])
}

func TestRunStorageFailureIsFatal(t *testing.T) {
	feed := &fakeFeed{pages: [][]Item{page("A", "B")}}
	sink := newFakeSink()
	sink.filterErr = fmt.Errorf("database is locked")
	sess := &fakeSession{}

	summary, err := newTestExtractor(feed, sink, sess, Options{}).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive unavailable")
	assert.Equal(t, 0, summary.Total)
}

func TestRunContextCancelStopsBetweenItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	sink := newFakeSink()
	items := []Item{
		&fakeItem{key: "A"},
		&fakeItem{key: "B"},
	}
	feed := &fakeFeed{pages: [][]Item{items}}

	// Cancel as soon as the first item lands
	cancelSink := &cancelOnPersist{fakeSink: sink, cancel: cancel}

	summary, err := newTestExtractor(feed, cancelSink, &fakeSession{}, Options{}).Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, []string{"A"}, sink.persistCalls)
}

type cancelOnPersist struct {
	*fakeSink
	cancel context.CancelFunc
}

func (s *cancelOnPersist) Persist(ctx context.Context, item Item, force bool) (bool, error) {
	created, err := s.fakeSink.Persist(ctx, item, force)
	s.cancel()
	return created, err
}

func TestRunMediaFailureKeepsItem(t *testing.T) {
	items := []Item{
		&fakeItem{key: "A", refs: []media.Ref{{URL: "https://cdn.test/a.jpg", Kind: media.KindImage}}},
		&fakeItem{key: "B", refs: []media.Ref{{URL: "https://cdn.test/slow.jpg", Kind: media.KindImage}}},
	}
	feed := &fakeFeed{pages: [][]Item{items}}
	sink := newFakeSink()
	fetcher := &fakeMediaFetcher{failURL: "https://cdn.test/slow.jpg"}

	extractor := newTestExtractor(feed, sink, &fakeSession{}, Options{FetchMedia: true}).
		WithMediaFetcher(fetcher)
	summary, err := extractor.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 2, Skipped: 0, Errors: 0, Total: 2}, summary)
	assert.Equal(t, 2, fetcher.calls)

	assert.Equal(t, []string{"/downloads/A.jpg"}, items[0].(*fakeItem).mediaPaths)
	assert.Empty(t, items[1].(*fakeItem).mediaPaths)
}

func TestRunMediaSkippedWhenDisabled(t *testing.T) {
	items := []Item{
		&fakeItem{key: "A", refs: []media.Ref{{URL: "https://cdn.test/a.jpg", Kind: media.KindImage}}},
	}
	feed := &fakeFeed{pages: [][]Item{items}}
	fetcher := &fakeMediaFetcher{}

	extractor := newTestExtractor(feed, newFakeSink(), &fakeSession{}, Options{FetchMedia: false}).
		WithMediaFetcher(fetcher)
	_, err := extractor.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, fetcher.calls)
}

func TestRunPrecommitGuardCatchesRace(t *testing.T) {
	// Another writer archives B between the batch filter and the
	// upsert
	sink := newFakeSink()
	raceSink := &archiveDuringFilter{fakeSink: sink, sneakIn: "B"}
	feed := &fakeFeed{pages: [][]Item{page("A", "B")}}

	summary, err := newTestExtractor(feed, raceSink, &fakeSession{}, Options{}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Summary{Processed: 1, Skipped: 1, Errors: 0, Total: 2}, summary)
	assert.Equal(t, []string{"A"}, sink.persistCalls)
}

type archiveDuringFilter struct {
	*fakeSink
	sneakIn string
}

func (s *archiveDuringFilter) FilterNew(keys []string) ([]string, error) {
	fresh, err := s.fakeSink.FilterNew(keys)
	s.fakeSink.archived[s.sneakIn] = true
	return fresh, err
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "init", StateInit.String())
	assert.Equal(t, "fetching", StateFetching.String())
	assert.Equal(t, "processing", StateProcessing.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}

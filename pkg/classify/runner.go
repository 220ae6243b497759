package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"postvault/pkg/logger"
	"postvault/pkg/ratelimit"
	"postvault/pkg/store"
)

// SourceAll asks the runner to walk every platform
const SourceAll = "all"

// RunOptions controls one classification run
type RunOptions struct {
	// Source picks which archive to walk, SourceAll or empty walks
	// both platforms
	Source string

	// Limit stops after this many new verdicts per source, 0 means
	// no limit. Failed items do not count, the next run retries them.
	Limit int

	// Force classifies items that already have a verdict from this
	// classifier and model, adding a new row and keeping the old one
	Force bool

	// Replace makes Force overwrite the latest verdict instead of
	// adding a row
	Replace bool
}

// Summary reports what one classification run did
type Summary struct {
	Classified int    `json:"classified"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	RunID      string `json:"run_id"`
}

// llmBacked is implemented by classifiers that can describe the
// provider behind them
type llmBacked interface {
	Metadata() map[string]interface{}
}

// Runner walks the archive and stores one verdict per item
type Runner struct {
	store      *store.Store
	classifier Classifier
	limiter    ratelimit.Limiter
	metadata   map[string]interface{}
	model      string
	logger     logger.Logger
}

// NewRunner creates a runner for one classifier. perMinute caps the
// LLM call rate, 0 disables the limiter.
func NewRunner(s *store.Store, classifier Classifier, perMinute int, log logger.Logger) *Runner {
	if log == nil {
		log = logger.GetLogger()
	}

	r := &Runner{
		store:      s,
		classifier: classifier,
		logger:     log,
	}
	if perMinute > 0 {
		r.limiter = ratelimit.NewPerMinute(perMinute)
	}
	if backed, ok := classifier.(llmBacked); ok {
		r.metadata = backed.Metadata()
		if model, ok := r.metadata["model"].(string); ok {
			r.model = model
		}
	}
	return r
}

// Run classifies items missing a verdict and persists the results.
// Item failures are logged and counted, only cancellation and listing
// failures abort the run. Every verdict of one run shares a run id.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}

	if opts.Replace && !opts.Force {
		return summary, fmt.Errorf("replace requires force")
	}
	sources, err := resolveSources(opts.Source)
	if err != nil {
		return summary, err
	}

	r.logger.InfoWithFields("starting classification run", map[string]interface{}{
		"run_id":     summary.RunID,
		"classifier": r.classifier.Name(),
		"model":      r.model,
		"sources":    sources,
		"limit":      opts.Limit,
		"force":      opts.Force,
	})

	for _, source := range sources {
		if err := r.runSource(ctx, source, opts, &summary); err != nil {
			r.finishLog(summary, err)
			return summary, err
		}
	}

	r.finishLog(summary, nil)
	return summary, nil
}

// runSource classifies one platform's share of the run
func (r *Runner) runSource(ctx context.Context, source string, opts RunOptions, summary *Summary) error {
	var (
		items []store.PendingItem
		err   error
	)
	if opts.Force {
		items, err = r.store.TextItems(source, 0)
	} else {
		items, err = r.store.PendingClassification(source, r.classifier.Name(), opts.Limit)
	}
	if err != nil {
		return fmt.Errorf("failed to list %s items: %w", source, err)
	}

	r.logger.DebugWithFields("listed items to classify", map[string]interface{}{
		"source": source,
		"items":  len(items),
		"force":  opts.Force,
	})

	classified := 0
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.Limit > 0 && classified >= opts.Limit {
			r.logger.InfoWithFields("item limit reached", map[string]interface{}{
				"source": source,
				"limit":  opts.Limit,
			})
			break
		}

		created, err := r.classifyItem(ctx, item, opts, summary.RunID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			summary.Failed++
			r.logger.ErrorWithFields("failed to classify item", map[string]interface{}{
				"run_id":     summary.RunID,
				"source":     source,
				"content_id": item.ContentID,
				"error":      err.Error(),
			})
			continue
		}
		if !created {
			summary.Skipped++
			continue
		}
		summary.Classified++
		classified++
	}

	return nil
}

// classifyItem runs one prediction and stores the verdict. It returns
// false with no error when the item turned out to be already labeled.
func (r *Runner) classifyItem(ctx context.Context, item store.PendingItem, opts RunOptions, runID string) (bool, error) {
	existingID := int64(0)

	if opts.Force {
		has, err := r.store.HasClassification(item.ContentID, item.Source, r.classifier.Name(), r.model)
		if err != nil {
			return false, err
		}
		if has && opts.Replace {
			existingID, err = r.store.LatestClassificationID(item.ContentID, item.Source, r.classifier.Name(), r.model)
			if err != nil {
				return false, err
			}
		}
	} else {
		// Guard against a concurrent run between the listing and now
		has, err := r.store.HasClassification(item.ContentID, item.Source, r.classifier.Name(), "")
		if err != nil {
			return false, err
		}
		if has {
			return false, nil
		}
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	result, err := r.classifier.Predict(ctx, item.Text)
	if err != nil {
		return false, err
	}

	if err := r.persist(item, result, existingID, runID); err != nil {
		return false, err
	}
	return true, nil
}

// persist stores one verdict, rewriting an earlier row when force and
// replace picked one out. Reasoning moves from the details into its
// own column.
func (r *Runner) persist(item store.PendingItem, result Result, existingID int64, runID string) error {
	reasoning := ""
	details := make(map[string]interface{}, len(result.Details))
	for k, v := range result.Details {
		details[k] = v
	}
	if v, ok := details["reasoning"]; ok {
		if s, ok := v.(string); ok {
			reasoning = s
		}
		delete(details, "reasoning")
	}

	c := &store.Classification{
		ContentID:      item.ContentID,
		ContentSource:  item.Source,
		ClassifierName: r.classifier.Name(),
		RunID:          runID,
		Label:          result.Label,
		Confidence:     result.Confidence,
		Reasoning:      reasoning,
		LLMMetadata:    r.metadata,
		Details:        details,
	}

	if existingID > 0 {
		return r.store.UpdateClassification(existingID, c)
	}
	_, err := r.store.SaveClassification(c)
	return err
}

// resolveSources expands the source option into store source names
func resolveSources(source string) ([]string, error) {
	switch source {
	case "", SourceAll:
		return []string{store.SourceInstagram, store.SourceTelegram}, nil
	case store.SourceInstagram, store.SourceTelegram:
		return []string{source}, nil
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
}

func (r *Runner) finishLog(summary Summary, err error) {
	fields := map[string]interface{}{
		"run_id":     summary.RunID,
		"classifier": r.classifier.Name(),
		"classified": summary.Classified,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
	}
	if err != nil {
		fields["error"] = err.Error()
		r.logger.ErrorWithFields("classification run failed", fields)
		return
	}
	r.logger.InfoWithFields("classification run finished", fields)
}

// Package pipeline assembles the extraction and classification stacks
// from their components. The CLI and the REST surface both drive runs
// through it, so the wiring lives in exactly one place.
package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"postvault/pkg/auth"
	"postvault/pkg/backoff"
	"postvault/pkg/classify"
	"postvault/pkg/config"
	"postvault/pkg/extractor"
	"postvault/pkg/instagram"
	"postvault/pkg/logger"
	"postvault/pkg/media"
	"postvault/pkg/session"
	"postvault/pkg/store"
	"postvault/pkg/telegram"
)

// ExtractOptions selects and bounds one extraction run.
type ExtractOptions struct {
	// Platform is auth.PlatformInstagram or auth.PlatformTelegram
	Platform string

	// Limit caps newly archived items, 0 means no limit
	Limit int

	// Force re-persists items the archive already holds
	Force bool

	// Account picks a specific stored account; empty uses the first
	// stored account for the platform, falling back to the configured
	// identity
	Account string

	// Credentials bypasses the credential store entirely when set.
	// Tests and the REST surface use this.
	Credentials *auth.Credentials

	// CacheDir overrides the session token cache location
	CacheDir string

	// Prompter handles interactive login input; nil uses the terminal
	Prompter session.LoginPrompter
}

// Extract opens a platform session, runs the extraction loop against
// the shared archive and returns its summary. The session is closed on
// every exit path by the loop itself.
func Extract(ctx context.Context, cfg *config.Config, st *store.Store, opts ExtractOptions, log logger.Logger) (extractor.Summary, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	creds := opts.Credentials
	if creds == nil {
		var err error
		creds, err = resolveCredentials(cfg, opts.Platform, opts.Account)
		if err != nil {
			return extractor.Summary{}, err
		}
	}

	var (
		feed        extractor.Feed
		sink        extractor.Sink
		sess        *session.Manager
		policy      backoff.Policy
		setToken    func(string)
		maxRequests int
	)

	switch opts.Platform {
	case auth.PlatformInstagram:
		client := instagram.NewClient(cfg.Instagram, log)
		mgr, err := session.NewManager(creds, client, log)
		if err != nil {
			return extractor.Summary{}, err
		}
		sess = mgr
		feed = instagram.NewSavedFeed(client, instagram.DefaultPageSize)
		sink = instagram.NewStoreSink(st)
		policy = backoff.FromConfig(cfg.RateLimit.Instagram)
		setToken = client.SetSessionToken
		maxRequests = cfg.Instagram.MaxRequestsPerSession

	case auth.PlatformTelegram:
		client := telegram.NewClient(cfg.Telegram, log)
		mgr, err := session.NewManager(creds, client, log)
		if err != nil {
			return extractor.Summary{}, err
		}
		sess = mgr
		feed = telegram.NewSavedFeed(client, telegram.DefaultPageSize)
		sink = telegram.NewStoreSink(st)
		policy = backoff.FromConfig(cfg.RateLimit.Telegram)
		setToken = client.SetSessionToken
		maxRequests = cfg.Telegram.MaxRequestsPerSession

	default:
		return extractor.Summary{}, fmt.Errorf("unknown platform %q", opts.Platform)
	}

	sess.WithMaxRequests(maxRequests).
		WithLoginRetry(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoff)
	if opts.CacheDir != "" {
		sess.WithCacheDir(opts.CacheDir)
	}
	if opts.Prompter != nil {
		sess.WithPrompter(opts.Prompter)
	}

	if err := sess.Open(ctx); err != nil {
		return extractor.Summary{}, err
	}
	setToken(sess.Token())

	if left, bounded := sess.Remaining(); bounded {
		log.DebugWithFields("session opened", map[string]interface{}{
			"platform":         opts.Platform,
			"remaining_budget": left,
		})
	}

	ex := extractor.New(opts.Platform, feed, sink, sess, extractor.Options{
		Limit:      opts.Limit,
		Force:      opts.Force,
		FetchMedia: cfg.Media.Enabled,
	}, log).WithDelayPolicy(policy)

	if cfg.Media.Enabled {
		fetcher, err := media.NewFetcher(cfg.Media, log)
		if err != nil {
			sess.Close()
			return extractor.Summary{}, fmt.Errorf("failed to prepare media directory: %w", err)
		}
		ex.WithMediaFetcher(fetcher)
	}

	return ex.Run(ctx)
}

// Classify builds the configured classifier and labels pending items
// in the archive.
func Classify(ctx context.Context, cfg *config.Config, st *store.Store, opts classify.RunOptions, log logger.Logger) (classify.Summary, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	classifier, err := classify.New(cfg.Classifier, log)
	if err != nil {
		return classify.Summary{}, err
	}

	runner := classify.NewRunner(st, classifier, cfg.Classifier.RequestsPerMinute, log)
	return runner.Run(ctx, opts)
}

// resolveCredentials walks the credential store chain, falling back to
// the identity named in the configuration so a cached session can be
// resumed without stored secrets.
func resolveCredentials(cfg *config.Config, platform, account string) (*auth.Credentials, error) {
	if mgr, err := auth.NewManager(); err == nil {
		if account != "" {
			creds, err := mgr.Retrieve(platform, account)
			if err != nil {
				return nil, fmt.Errorf("no stored credentials for %s/%s: %w", platform, account, err)
			}
			return creds, nil
		}
		if creds, err := mgr.RetrieveDefault(platform); err == nil {
			return creds, nil
		}
	}

	switch platform {
	case auth.PlatformInstagram:
		if cfg.Instagram.Username != "" {
			return &auth.Credentials{
				Platform: auth.PlatformInstagram,
				Username: cfg.Instagram.Username,
			}, nil
		}
	case auth.PlatformTelegram:
		if cfg.Telegram.Phone != "" {
			apiID, err := telegramAPIID(cfg.Telegram.APIID)
			if err != nil {
				return nil, err
			}
			return &auth.Credentials{
				Platform: auth.PlatformTelegram,
				Username: cfg.Telegram.Phone,
				APIID:    apiID,
				APIHash:  cfg.Telegram.APIHash,
			}, nil
		}
	}

	return nil, fmt.Errorf("no credentials for %s: run 'postvault auth login --platform %s' first", platform, platform)
}

// telegramAPIID parses the configured numeric api_id, surfacing a
// clear error instead of letting a typo become api id 0 downstream.
func telegramAPIID(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("telegram api_id %q is not a number: %w", raw, err)
	}
	return id, nil
}

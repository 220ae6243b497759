package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"postvault/internal/pipeline"
	"postvault/pkg/auth"
	"postvault/pkg/extractor"
	"postvault/pkg/logger"
	"postvault/pkg/store"
)

var (
	extractLimit       int
	extractForce       bool
	extractNoMedia     bool
	extractMaxRequests int
	extractMediaDir    string
	extractAccount     string
)

// extractCmd pulls saved content from a platform into the archive
var extractCmd = &cobra.Command{
	Use:   "extract <instagram|telegram|all>",
	Short: "Extract saved content into the local archive",
	Long: `Extract saved content from a platform into the local archive.

Already-archived items are skipped, so re-running is cheap and safe:
a fully ingested feed processes zero items. Use --force-update to
refresh engagement counts and text on items the archive already holds.

Requests are paced with adaptive delays and the run stops gracefully
when the per-session request budget is spent; interrupted runs resume
from where the archive left off.

'extract all' runs both platforms concurrently with separate sessions
and separate pacing state. Each platform stays strictly sequential
internally.`,
	Example: `  # Archive all saved Instagram posts
  postvault extract instagram

  # First 50 saved Telegram messages, no media download
  postvault extract telegram --limit 50 --no-media

  # Refresh engagement counts on already-archived posts
  postvault extract instagram --force-update

  # Both platforms, bounded session
  postvault extract all --max-requests 100`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"instagram", "telegram", "all"},
	RunE:      runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().IntVarP(&extractLimit, "limit", "l", 0, "stop after this many newly archived items (0 = no limit)")
	extractCmd.Flags().BoolVar(&extractForce, "force-update", false, "re-persist items the archive already holds")
	extractCmd.Flags().BoolVar(&extractNoMedia, "no-media", false, "skip media downloads")
	extractCmd.Flags().IntVar(&extractMaxRequests, "max-requests", 0, "per-session request budget (0 = unbounded)")
	extractCmd.Flags().StringVar(&extractMediaDir, "media-dir", "", "directory for downloaded media")
	extractCmd.Flags().StringVarP(&extractAccount, "account", "a", "", "use a specific stored account")
}

func runExtract(cmd *cobra.Command, args []string) error {
	target := args[0]

	var platforms []string
	switch target {
	case auth.PlatformInstagram, auth.PlatformTelegram:
		platforms = []string{target}
	case "all":
		platforms = []string{auth.PlatformInstagram, auth.PlatformTelegram}
	default:
		return fmt.Errorf("unknown platform %q (want instagram, telegram or all)", target)
	}

	cfg, err := loadConfig(map[string]interface{}{
		"no-media":     extractNoMedia,
		"max-requests": extractMaxRequests,
		"media-dir":    extractMediaDir,
	})
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		mu        sync.Mutex
		summaries = make(map[string]extractor.Summary, len(platforms))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, platform := range platforms {
		g.Go(func() error {
			summary, err := pipeline.Extract(gctx, cfg, st, pipeline.ExtractOptions{
				Platform: platform,
				Limit:    extractLimit,
				Force:    extractForce,
				Account:  extractAccount,
			}, log)

			mu.Lock()
			summaries[platform] = summary
			mu.Unlock()

			if err != nil {
				return fmt.Errorf("%s: %w", platform, err)
			}
			return nil
		})
	}

	runErr := g.Wait()

	n := notifier()
	for _, platform := range platforms {
		s := summaries[platform]
		fmt.Printf("%s: processed=%d skipped=%d errors=%d total=%d\n",
			platform, s.Processed, s.Skipped, s.Errors, s.Total)
		n.ExtractionDone(platform, s.Processed, s.Skipped, s.Errors)
	}

	if runErr != nil {
		n.RunFailed("extraction", runErr)
	}
	return runErr
}

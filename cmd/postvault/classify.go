package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"postvault/internal/pipeline"
	"postvault/pkg/classify"
	"postvault/pkg/logger"
	"postvault/pkg/store"
)

var (
	classifySource     string
	classifyName       string
	classifyModel      string
	classifyAPIBase    string
	classifyClassesRaw string
	classifyLimit      int
	classifyForce      bool
	classifyReplace    bool
)

// classifyCmd groups the classification subcommands
var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Label archived text with an LLM classifier",
	Long: `Label archived text through an OpenAI-compatible LLM endpoint.

The built-in classifiers are:
  recipe      binary recipe / not-recipe detection with structured details
  multiclass  pick one label from a configured category set

Results are stored per (item, classifier, model); items that already
have a verdict are skipped unless --force is given.`,
}

// classifyRunCmd labels pending archived items
var classifyRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Classify archived items that have no verdict yet",
	Example: `  # Label pending items from both platforms with the configured classifier
  postvault classify run

  # Recipe-detect Instagram captions only
  postvault classify run --source instagram --classifier recipe

  # Custom categories, inline or from a file
  postvault classify run --classifier multiclass --classes '{"tech":"technology news","food":"cooking and recipes"}'
  postvault classify run --classifier multiclass --classes @categories.json`,
	RunE: runClassify,
}

// classifyTextCmd labels one text from the command line
var classifyTextCmd = &cobra.Command{
	Use:   "text <text>",
	Short: "Classify a single text without touching the archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runClassifyText,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.AddCommand(classifyRunCmd)
	classifyCmd.AddCommand(classifyTextCmd)

	for _, cmd := range []*cobra.Command{classifyRunCmd, classifyTextCmd} {
		cmd.Flags().StringVar(&classifyName, "classifier", "", "classifier to use (recipe, multiclass)")
		cmd.Flags().StringVar(&classifyModel, "model", "", "LLM model name")
		cmd.Flags().StringVar(&classifyAPIBase, "api-base", "", "OpenAI-compatible endpoint base URL")
		cmd.Flags().StringVar(&classifyClassesRaw, "classes", "", "category set as JSON object or @file")
	}

	classifyRunCmd.Flags().StringVarP(&classifySource, "source", "s", classify.SourceAll, "which archive to walk (instagram, telegram, all)")
	classifyRunCmd.Flags().IntVarP(&classifyLimit, "limit", "l", 0, "stop after this many new verdicts per source (0 = no limit)")
	classifyRunCmd.Flags().BoolVar(&classifyForce, "force", false, "classify items that already have a verdict")
	classifyRunCmd.Flags().BoolVar(&classifyReplace, "replace", false, "with --force, overwrite the latest verdict instead of adding a row")
}

// parseClasses reads the category set from a JSON literal or, with a
// leading @, from a file.
func parseClasses(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}

	data := []byte(raw)
	if strings.HasPrefix(raw, "@") {
		var err error
		data, err = os.ReadFile(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read classes file: %w", err)
		}
	}

	classes := make(map[string]string)
	if err := json.Unmarshal(data, &classes); err != nil {
		return nil, fmt.Errorf("classes must be a JSON object of name to description: %w", err)
	}
	return classes, nil
}

func classifierFlags() map[string]interface{} {
	return map[string]interface{}{
		"classifier": classifyName,
		"model":      classifyModel,
		"api-base":   classifyAPIBase,
	}
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(classifierFlags())
	if err != nil {
		return err
	}
	if classes, err := parseClasses(classifyClassesRaw); err != nil {
		return err
	} else if classes != nil {
		cfg.Classifier.Classes = classes
	}
	log := logger.GetLogger()

	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := pipeline.Classify(ctx, cfg, st, classify.RunOptions{
		Source:  classifySource,
		Limit:   classifyLimit,
		Force:   classifyForce,
		Replace: classifyReplace,
	}, log)

	fmt.Printf("classified=%d failed=%d skipped=%d run_id=%s\n",
		summary.Classified, summary.Failed, summary.Skipped, summary.RunID)

	n := notifier()
	n.ClassificationDone(summary.Classified, summary.Failed)
	if err != nil {
		n.RunFailed("classification", err)
	}
	return err
}

func runClassifyText(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(classifierFlags())
	if err != nil {
		return err
	}
	if classes, err := parseClasses(classifyClassesRaw); err != nil {
		return err
	} else if classes != nil {
		cfg.Classifier.Classes = classes
	}

	classifier, err := classify.New(cfg.Classifier, logger.GetLogger())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := classifier.Predict(ctx, args[0])
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"classifier": classifier.Name(),
		"label":      result.Label,
		"confidence": result.Confidence,
		"details":    result.Details,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

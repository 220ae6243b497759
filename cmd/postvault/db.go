package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"postvault/pkg/logger"
	"postvault/pkg/store"
)

// dbCmd groups the archive maintenance subcommands
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and migrate the archive database",
}

// dbMigrateCmd brings the schema up to the current version
var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Apply pending schema migrations.

Migrations are forward-only and additive; running against an
up-to-date archive is a no-op. Opening the archive migrates
automatically, so this command mainly exists to migrate explicitly
before a deploy.`,
	RunE: runDBMigrate,
}

// dbStatusCmd reports the schema version and row counts
var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schema version and archive counts",
	RunE:  runDBStatus,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
}

func openArchive() (*store.Store, error) {
	cfg, err := loadConfig(nil)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path, logger.GetLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return st, nil
}

func runDBMigrate(cmd *cobra.Command, args []string) error {
	st, err := openArchive()
	if err != nil {
		return err
	}
	defer st.Close()

	version, err := st.SchemaVersion()
	if err != nil {
		return err
	}

	fmt.Printf("Archive is at schema version %d\n", version)
	return nil
}

func runDBStatus(cmd *cobra.Command, args []string) error {
	st, err := openArchive()
	if err != nil {
		return err
	}
	defer st.Close()

	version, err := st.SchemaVersion()
	if err != nil {
		return err
	}
	posts, err := st.CountPosts()
	if err != nil {
		return err
	}
	messages, err := st.CountMessages()
	if err != nil {
		return err
	}
	classifications, err := st.CountClassifications()
	if err != nil {
		return err
	}

	fmt.Printf("Schema version:  %d\n", version)
	fmt.Printf("Posts:           %d\n", posts)
	fmt.Printf("Messages:        %d\n", messages)
	fmt.Printf("Classifications: %d\n", classifications)
	return nil
}

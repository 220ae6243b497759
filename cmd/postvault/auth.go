package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"postvault/pkg/auth"
	"postvault/pkg/session"
)

var authPlatform string

// authCmd groups the credential subcommands
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage platform credentials",
	Long: `Manage stored platform credentials securely.

Credentials are stored using, in order of preference:
  - the system keychain (when available)
  - an encrypted file with PBKDF2 key derivation
  - environment variables (read-only fallback)

Session tokens are cached separately, so once a login succeeds later
runs skip it entirely. Never share your credentials or config files.`,
}

// authLoginCmd stores credentials for one account
var authLoginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Store credentials for a platform account",
	Long: `Store credentials for a platform account.

Instagram asks for the account username and password.

Telegram asks for the phone number in international form (+15550109999)
and the api_id/api_hash pair from https://my.telegram.org. The login
code sent to the account is prompted for during the first extraction,
not here.`,
	Example: `  # Store Instagram credentials interactively
  postvault auth login --platform instagram

  # Store Telegram credentials for a known phone number
  postvault auth login +15550109999 --platform telegram`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogin,
}

// authStatusCmd lists stored accounts
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List stored accounts",
	RunE:  runAuthStatus,
}

// authRemoveCmd deletes stored credentials
var authRemoveCmd = &cobra.Command{
	Use:   "remove [username]",
	Short: "Remove stored credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthRemove,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRemoveCmd)

	authCmd.PersistentFlags().StringVarP(&authPlatform, "platform", "p", auth.PlatformInstagram, "platform (instagram, telegram)")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	prompter := session.NewTerminalPrompter()

	creds := &auth.Credentials{
		Platform:     authPlatform,
		LastModified: time.Now().UTC(),
	}
	if len(args) > 0 {
		creds.Username = args[0]
	}

	switch authPlatform {
	case auth.PlatformInstagram:
		if creds.Username == "" {
			username, err := prompter.Prompt("Instagram username")
			if err != nil {
				return err
			}
			creds.Username = username
		}
		password, err := prompter.PromptSecret("Password")
		if err != nil {
			return err
		}
		creds.Password = password

	case auth.PlatformTelegram:
		if creds.Username == "" {
			phone, err := prompter.Prompt("Phone number (international form, e.g. +15550109999)")
			if err != nil {
				return err
			}
			creds.Username = phone
		}
		apiIDRaw, err := prompter.Prompt("API ID (from my.telegram.org)")
		if err != nil {
			return err
		}
		apiID, err := strconv.Atoi(apiIDRaw)
		if err != nil {
			return fmt.Errorf("api_id must be a number: %w", err)
		}
		creds.APIID = apiID

		apiHash, err := prompter.PromptSecret("API hash")
		if err != nil {
			return err
		}
		creds.APIHash = apiHash

	default:
		return fmt.Errorf("unknown platform %q (want instagram or telegram)", authPlatform)
	}

	if err := creds.Validate(); err != nil {
		return err
	}

	mgr, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("no credential store available: %w", err)
	}
	if err := mgr.Store(creds); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	fmt.Printf("Credentials stored for %s/%s\n", creds.Platform, creds.Username)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	mgr, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("no credential store available: %w", err)
	}

	accounts, err := mgr.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Println("No stored accounts. Run 'postvault auth login' to add one.")
		return nil
	}

	fmt.Println("Stored accounts:")
	for _, creds := range accounts {
		masked := auth.Sanitize(creds)
		fmt.Printf("  %-10s %s", masked.Platform, masked.Username)
		if !masked.LastModified.IsZero() {
			fmt.Printf("  (updated %s)", masked.LastModified.Format("2006-01-02"))
		}
		fmt.Println()
	}
	return nil
}

func runAuthRemove(cmd *cobra.Command, args []string) error {
	mgr, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("no credential store available: %w", err)
	}

	if len(args) == 0 {
		return fmt.Errorf("username is required: postvault auth remove <username> --platform %s", authPlatform)
	}

	if err := mgr.Delete(authPlatform, args[0]); err != nil {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}

	fmt.Printf("Credentials removed for %s/%s\n", authPlatform, args[0])
	return nil
}

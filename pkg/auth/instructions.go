package auth

import (
	"fmt"
	"strings"
)

// ShowSetupGuide prints step-by-step setup instructions for a platform
func ShowSetupGuide(platform string) {
	switch platform {
	case PlatformTelegram:
		showTelegramGuide()
	default:
		showInstagramGuide()
	}
}

func showInstagramGuide() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("📚 INSTAGRAM SETUP GUIDE")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println()

	fmt.Println("The archiver needs an Instagram account to read your saved posts.")
	fmt.Println()

	fmt.Println("🔑 STEP 1: Pick an account")
	fmt.Println("   - Any account that can see the saved posts you want to archive")
	fmt.Println("   - A secondary account lowers the risk to your main account")
	fmt.Println()

	fmt.Println("💾 STEP 2: Store the credentials")
	fmt.Println("   postvault auth login instagram")
	fmt.Println("   - You will be asked for username and password")
	fmt.Println("   - The password is stored encrypted, never in plain text")
	fmt.Println("   - Accounts with two-factor auth get a code prompt at login time")
	fmt.Println()

	fmt.Println("⚙️  Non-interactive setups can use environment variables instead:")
	fmt.Println("   POSTVAULT_IG_USERNAME and POSTVAULT_IG_PASSWORD")
	fmt.Println()

	fmt.Println("⚠️  SECURITY:")
	fmt.Println("   • These credentials give FULL access to the account")
	fmt.Println("   • NEVER share them or commit them to a repository")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println()
}

func showTelegramGuide() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("📚 TELEGRAM SETUP GUIDE")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println()

	fmt.Println("Telegram requires an API key pair in addition to your phone number.")
	fmt.Println()

	fmt.Println("🌐 STEP 1: Create API credentials")
	fmt.Println("   1. Go to https://my.telegram.org and log in with your phone")
	fmt.Println("   2. Open 'API development tools'")
	fmt.Println("   3. Create an application (any name and short name work)")
	fmt.Println("   4. Note the api_id (number) and api_hash (32-char string)")
	fmt.Println()

	fmt.Println("💾 STEP 2: Store the credentials")
	fmt.Println("   postvault auth login telegram")
	fmt.Println("   - You will be asked for phone (+ country code), api_id, api_hash")
	fmt.Println("   - The first session start sends a login code to your Telegram app")
	fmt.Println()

	fmt.Println("⚙️  Non-interactive setups can use environment variables instead:")
	fmt.Println("   POSTVAULT_TG_PHONE, POSTVAULT_TG_API_ID, POSTVAULT_TG_API_HASH")
	fmt.Println()

	fmt.Println("⚠️  SECURITY:")
	fmt.Println("   • The api_hash plus a login code grants account access")
	fmt.Println("   • NEVER share it or commit it to a repository")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println()
}

// ShowQuickSetupGuide shows a condensed reminder for returning users
func ShowQuickSetupGuide(platform string) {
	switch platform {
	case PlatformTelegram:
		fmt.Println("\n🔑 Quick: my.telegram.org → API development tools → api_id + api_hash")
		fmt.Println("   Then: postvault auth login telegram")
	default:
		fmt.Println("\n🔑 Quick: postvault auth login instagram (username + password)")
	}
}

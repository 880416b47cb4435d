package common

import (
	"fmt"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner
func PrintBanner(serviceName, environment, vaultPath, logFile string) {
	version := GetVersion()
	build := GetBuild()

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorPurple).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")

	b.PrintTopLine()
	b.PrintCenteredText("INCIDENT VAULT SYNC")
	b.PrintCenteredText("incident.io to Markdown Vault Collector")
	b.PrintSeparatorLine()

	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Environment", environment, 15)
	b.PrintKeyValue("Vault", vaultPath, 15)
	b.PrintBottomLine()

	fmt.Printf("\n")

	fmt.Printf("📋 Configuration:\n")
	fmt.Printf("   • Service: %s\n", serviceName)

	if logFile != "" {
		pattern := strings.Replace(logFile, ".log", ".{YYYY-MM-DDTHH-MM-SS}.log", 1)
		fmt.Printf("   • Log File: %s\n", pattern)
	}
	fmt.Printf("\n")

	printSyncInfo()
	fmt.Printf("\n")
}

// printSyncInfo displays the sync capabilities
func printSyncInfo() {
	fmt.Printf("🎯 Sync Capabilities:\n")
	fmt.Printf("   • Incident Notes - One detail document per incident, YAML header + markdown body\n")
	fmt.Printf("   • Daily Log Sections - Surgical replace of the managed section in dated notes\n")
	fmt.Printf("   • Historical Backfill - Re-apply summaries across prior days after a history sync\n")
	fmt.Printf("   • On-call Status - Current schedule coverage for the configured user\n")
	fmt.Printf("   • Web Interface - Status API and live sync events over WebSocket\n")
}

// PrintShutdownBanner displays the application shutdown banner
func PrintShutdownBanner(serviceName string) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorPurple).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText(serviceName)
	b.PrintBottomLine()
	fmt.Println()
}

// PrintColorizedMessage prints a message with specified color
func PrintColorizedMessage(color, message string) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintSuccess prints a success message in green
func PrintSuccess(message string) {
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("✓ %s", message))
}

// PrintError prints an error message in red
func PrintError(message string) {
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("✗ %s", message))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(message string) {
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("⚠ %s", message))
}

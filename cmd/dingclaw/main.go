// DingClaw - DingTalk Stream channel gateway
// License: MIT
//
// Copyright (c) 2026 DingClaw contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/zhaopengme/dingclaw/pkg/config"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const logo = "🦞"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("%s dingclaw %s\n", logo, formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "onboard":
		onboard()
	case "gateway":
		gatewayCmd()
	case "status":
		statusCmd()
	case "version", "--version", "-v":
		printVersion()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s dingclaw - DingTalk channel gateway v%s\n\n", logo, version)
	fmt.Println("Usage: dingclaw <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  onboard     Initialize dingclaw configuration")
	fmt.Println("  gateway     Start the dingclaw gateway")
	fmt.Println("  status      Show channel status")
	fmt.Println("  version     Show version information")
}

func getConfigPath() string {
	if path := os.Getenv("DINGCLAW_CONFIG"); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dingclaw", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}

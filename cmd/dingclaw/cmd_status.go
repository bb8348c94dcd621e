// DingClaw - DingTalk Stream channel gateway
// License: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zhaopengme/dingclaw/pkg/dingtalk"
)

// statusCmd enumerates the configured accounts and probes each one's
// credentials against the DingTalk API.
func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	accounts := cfg.DingTalkAccountList()
	if len(accounts) == 0 {
		fmt.Println("No enabled DingTalk accounts. Run 'dingclaw onboard' first.")
		return
	}

	fmt.Printf("%s dingclaw accounts:\n\n", logo)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	for _, account := range accounts {
		fmt.Printf("  %s\n", account.ID)
		fmt.Printf("    client_id:  %s\n", account.Config.ClientID)
		if account.Config.RobotCode != "" {
			fmt.Printf("    robot_code: %s\n", account.Config.RobotCode)
		}

		if err := account.Validate(); err != nil {
			fmt.Printf("    credentials: ✗ %v\n", err)
			continue
		}

		api := dingtalk.NewClient(account.Config.ClientID, account.Config.ClientSecret, account.Config.RobotCode)
		if _, err := api.AccessToken(ctx); err != nil {
			fmt.Printf("    credentials: ✗ %v\n", err)
		} else {
			fmt.Println("    credentials: ✓ token acquired")
		}
	}
}

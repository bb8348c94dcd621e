// DingClaw - DingTalk Stream channel gateway
// License: MIT

package main

import (
	"fmt"
	"os"

	"github.com/zhaopengme/dingclaw/pkg/config"
)

func onboard() {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(configPath); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s dingclaw is ready!\n", logo)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Create a robot app at https://open-dev.dingtalk.com")
	fmt.Println("     and switch its message receive mode to Stream.")
	fmt.Printf("  2. Put its Client ID / Client Secret into %s\n", configPath)
	fmt.Println("     under channels.dingtalk, and set \"enabled\": true.")
	fmt.Println("  3. Start: dingclaw gateway")
}

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/WylieDituri/modmail-sync/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("modmail-sync Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		// 1. Backend URL
		cfg.Backend.URL = prompt(scanner, "Backend URL", cfg.Backend.URL)

		// 2. Auth cookie
		cfg.Backend.AuthCookie = prompt(scanner, "Auth cookie (name=value)", cfg.Backend.AuthCookie)

		// 3. Moderator identity
		cfg.Moderator.ID = prompt(scanner, "Moderator ID", cfg.Moderator.ID)
		cfg.Moderator.Username = prompt(scanner, "Moderator username", cfg.Moderator.Username)

		// 4. Update channel
		mode := prompt(scanner, "Update channel (sse or poll)", cfg.Channel.Mode)
		if mode == "sse" || mode == "poll" {
			cfg.Channel.Mode = mode
		}
		intervalStr := prompt(scanner, "Poll interval seconds", strconv.Itoa(cfg.Channel.PollIntervalSeconds))
		if n, err := strconv.Atoi(intervalStr); err == nil && n > 0 {
			cfg.Channel.PollIntervalSeconds = n
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

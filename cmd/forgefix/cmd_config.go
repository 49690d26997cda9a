package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"forgefix/internal/config"
)

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

var initPath string

// configCmd groups the configuration commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialise the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration and its sources",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().StringVar(&initPath, "path", "", "destination file (default ~/.forge/config.json)")

	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	shown.Backend.APIKey = maskKey(shown.Backend.APIKey)

	data, err := json.MarshalIndent(&shown, "", "  ")
	if err != nil {
		return exitWith(exitConfig, err)
	}
	fmt.Println(string(data))

	if len(cfg.Sources) == 0 {
		fmt.Println("\nsources: built-in defaults only")
		return nil
	}
	fmt.Println("\nsources (lowest priority first):")
	for _, s := range cfg.Sources {
		fmt.Printf("  %s\n", s)
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := initPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return exitWith(exitConfig, fmt.Errorf("resolving config path: %w", err))
		}
		path = filepath.Join(home, ".forge", "config.json")
	}
	if _, err := os.Stat(path); err == nil {
		return exitWith(exitConfig, fmt.Errorf("config file already exists at %s", path))
	}

	if err := config.Default().Save(path); err != nil {
		return exitWith(exitConfig, err)
	}
	fmt.Printf("default configuration written to %s\n", path)

	if journal, err := openJournal(); err == nil {
		_ = journal.ConfigChange("config-file", "default configuration written to "+path)
		_ = journal.Close()
	}
	return nil
}

// maskKey keeps just enough of a credential to recognise it.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

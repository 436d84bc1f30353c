package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	noColor     bool
	serverURL   string
	tokenFlag   string
	envFilePath = ".env"
)

var rootCmd = &cobra.Command{
	Use:           "stackpilot",
	Short:         "Product workspace, AI agents and knowledge search for founders",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			noColor = true
		}
		return loadEnvFile(envFilePath)
	},
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionString() + "\n")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default http://127.0.0.1:<server.port>)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "owner session token (default $STACKPILOT_TOKEN)")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd, tokenCmd, configCmd, mcpCmd)
	rootCmd.AddCommand(productsCmd, notesCmd, questionsCmd, techstacksCmd)
	rootCmd.AddCommand(agentsCmd, toolsCmd, collectionsCmd)
}

// loadEnvFile loads KEY=VALUE pairs from path without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// setupLogging installs a text slog handler on stderr at the named level.
func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:          "sso-bff",
	Short:        "OIDC backend-for-frontend for single page applications",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backend",
	Long: `Runs the backend-for-frontend. It performs the authorization code + PKCE login
against the configured OIDC provider and keeps the refresh token in an http-only cookie.

Configuration is read from the optional --config YAML file, then from the environment
(OIDC_ISSUER_URL, OIDC_CLIENT_ID, SPA_BASE_URL, ...). Environment variables win.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(configPath)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sso-bff version %s\n", version)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, versionCmd)
	rootCmd.Version = version
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

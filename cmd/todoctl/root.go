package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"todoapp.io/internal/client"
	"todoapp.io/internal/obs"
)

const (
	serverKey   = "server"
	adminKeyKey = "admin_key"
	tokenKey    = "token"
	logLevelKey = "log.level"
)

var rootCmd = &cobra.Command{
	Use:   "todoctl",
	Short: "Command line client for the todo API",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		obs.InitLogger(viper.GetString(logLevelKey), true)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		obs.Logger().Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Base URL of the todo API")
	_ = viper.BindPFlag(serverKey, rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.PersistentFlags().String("token", "", "Access token for protected routes")
	_ = viper.BindPFlag(tokenKey, rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag(logLevelKey, rootCmd.PersistentFlags().Lookup("log-level"))

	viper.SetEnvPrefix("TODOCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func newClient() (*client.Client, error) {
	server := viper.GetString(serverKey)
	if server == "" {
		return nil, fmt.Errorf("server address not configured, provide via --server or TODOCTL_SERVER")
	}
	return client.New(server,
		client.WithToken(viper.GetString(tokenKey)),
		client.WithAdminKey(viper.GetString(adminKeyKey)),
	), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

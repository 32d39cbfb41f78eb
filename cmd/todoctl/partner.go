package main

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"todoapp.io/internal/obs"
)

var (
	partnerID      string
	partnerEmail   string
	partnerSecret  string
	partnerRefresh string
)

var partnerCmd = &cobra.Command{
	Use:   "partner",
	Short: "Provision partners and exchange partner credentials",
}

var partnerRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a partner account and print its one-time secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString(adminKeyKey) == "" {
			return errors.New("admin key not configured, provide via --admin-key or TODOCTL_ADMIN_KEY")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		identity, err := c.RegisterPartner(cmd.Context(), partnerID, partnerEmail)
		if err != nil {
			return err
		}
		obs.Logger().Warn().Msg("store the partner secret now, it cannot be shown again")
		return printJSON(cmd, identity)
	},
}

var partnerTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange a partner secret or refresh token for an access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if partnerRefresh != "" {
			pair, err := c.RefreshPartnerToken(cmd.Context(), partnerID, partnerRefresh)
			if err != nil {
				return err
			}
			return printJSON(cmd, pair)
		}
		if partnerSecret == "" {
			return errors.New("either --secret or --refresh-token is required")
		}
		pair, err := c.PartnerToken(cmd.Context(), partnerID, partnerSecret)
		if err != nil {
			return err
		}
		return printJSON(cmd, pair)
	},
}

func init() {
	partnerCmd.PersistentFlags().StringVar(&partnerID, "partner-id", "", "Partner identifier (the derived id for token exchange)")
	_ = partnerCmd.MarkPersistentFlagRequired("partner-id")

	partnerRegisterCmd.Flags().StringVar(&partnerEmail, "email", "", "Contact email of the partner")
	_ = partnerRegisterCmd.MarkFlagRequired("email")
	partnerRegisterCmd.Flags().String("admin-key", "", "Administrative API key")
	_ = viper.BindPFlag(adminKeyKey, partnerRegisterCmd.Flags().Lookup("admin-key"))

	partnerTokenCmd.Flags().StringVar(&partnerSecret, "secret", "", "Partner secret")
	partnerTokenCmd.Flags().StringVar(&partnerRefresh, "refresh-token", "", "Refresh token; takes precedence over --secret")

	partnerCmd.AddCommand(partnerRegisterCmd, partnerTokenCmd)
	rootCmd.AddCommand(partnerCmd)
}

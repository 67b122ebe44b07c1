package cli

import (
	"github.com/spf13/cobra"

	"oi-signals/internal/app"
)

var (
	analyticsSymbol string
	analyticsExpiry string
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Print option-chain analytics for one expiry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Analytics(cmd.Context(), app.AnalyticsOptions{
			Symbol: analyticsSymbol,
			Expiry: analyticsExpiry,
			JSON:   jsonOutput,
		})
	},
}

func init() {
	analyticsCmd.Flags().StringVar(&analyticsSymbol, "symbol", "", "Symbol to analyse (defaults to the first configured symbol)")
	analyticsCmd.Flags().StringVar(&analyticsExpiry, "expiry", "", "Expiry date as listed by NSE, e.g. 26-Dec-2024 (defaults to nearest)")
}

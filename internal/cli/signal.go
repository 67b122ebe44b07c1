package cli

import (
	"github.com/spf13/cobra"

	"oi-signals/internal/app"
)

var (
	signalSymbol  string
	signalRefresh bool
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Print the latest composite signal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Signal(cmd.Context(), app.SignalOptions{
			Symbol:  signalSymbol,
			Refresh: signalRefresh,
			JSON:    jsonOutput,
		})
	},
}

func init() {
	signalCmd.Flags().StringVar(&signalSymbol, "symbol", "", "Symbol to score (defaults to every configured symbol)")
	signalCmd.Flags().BoolVar(&signalRefresh, "refresh", false, "Refetch the option chain and score afresh")
}

package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"oi-signals/internal/app"
)

var (
	simulateChains  []string
	simulateSymbol  string
	simulateExpiry  string
	simulatePersist bool
	simulateNotify  bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用保存的期权链 JSON 回放告警状态机",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulateChains) == 0 {
			return errors.New("--chain 必须至少提供一次")
		}
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			ChainPaths: simulateChains,
			Symbol:     simulateSymbol,
			Expiry:     simulateExpiry,
			Persist:    simulatePersist,
			Notify:     simulateNotify,
		})
	},
}

func init() {
	simulateCmd.Flags().StringArrayVar(&simulateChains, "chain", nil, "NSE option chain JSON file; repeat to replay several ticks in order")
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "标的代码（默认取配置中的第一个）")
	simulateCmd.Flags().StringVar(&simulateExpiry, "expiry", "", "Expiry to analyse (defaults to nearest)")
	simulateCmd.Flags().BoolVar(&simulatePersist, "persist", false, "Use the configured cache so alert state is shared with the running service")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "Deliver fired alerts to the configured subscribers")
}

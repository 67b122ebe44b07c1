package cli

import (
	"github.com/spf13/cobra"

	"oi-signals/internal/app"
)

var (
	impactPNGPath string
	impactCSVPath string
)

var impactCmd = &cobra.Command{
	Use:   "impact",
	Short: "Rank index constituents by their contribution to the index move",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Impact(cmd.Context(), app.ImpactOptions{
			PNGPath: impactPNGPath,
			CSVPath: impactCSVPath,
			JSON:    jsonOutput,
		})
	},
}

func init() {
	impactCmd.Flags().StringVar(&impactPNGPath, "png", "", "Path to write a PNG bar chart")
	impactCmd.Flags().StringVar(&impactCSVPath, "csv", "", "Path to write CSV data")
}

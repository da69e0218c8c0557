package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/webintel/internal/service"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print limiter, breaker, cache, queue, and health views",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := service.New(cmd.Context(), cfg)
		if err != nil {
			return eris.Wrap(err, "init service")
		}
		defer svc.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(svc.Stats())
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

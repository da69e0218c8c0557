package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/webintel/internal/service"
)

var cachePurgePrefix string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache maintenance",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove cached entries by key prefix (empty prefix removes all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := service.New(cmd.Context(), cfg)
		if err != nil {
			return eris.Wrap(err, "init service")
		}
		defer svc.Close()

		removed, err := svc.InvalidateCache(cmd.Context(), cachePurgePrefix)
		if err != nil {
			return eris.Wrap(err, "purge cache")
		}
		expired, err := svc.PurgeExpiredCache(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "purge expired cache")
		}

		zap.L().Info("cache purged",
			zap.String("prefix", cachePurgePrefix),
			zap.Int("removed", removed),
			zap.Int("expired", expired),
		)
		return nil
	},
}

func init() {
	cachePurgeCmd.Flags().StringVar(&cachePurgePrefix, "prefix", "", "key prefix, e.g. company: or serp:")
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}

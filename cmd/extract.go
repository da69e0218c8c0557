package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/webintel/internal/model"
	"github.com/sells-group/webintel/internal/service"
)

var (
	extractName     string
	extractDomain   string
	extractMode     string
	extractMaxPages int
	extractTimeout  int
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a single company record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mode, err := model.ParseMode(extractMode)
		if err != nil {
			return err
		}
		req, err := model.NewRequest(extractName, mode)
		if err != nil {
			return err
		}
		req.Domain = extractDomain
		if extractMaxPages > 0 {
			req.MaxPages = extractMaxPages
		}
		if extractTimeout > 0 {
			req.TimeoutSecs = extractTimeout
		}
		if err := req.Validate(); err != nil {
			return err
		}

		svc, err := service.New(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init service")
		}
		defer svc.Close()

		resp, err := svc.Extract(ctx, req)
		if err != nil {
			return eris.Wrap(err, "extract")
		}

		zap.L().Info("extraction complete",
			zap.String("company", req.CompanyName),
			zap.Bool("success", resp.Success),
			zap.Duration("processing_time", resp.ProcessingTime),
			zap.Int("warnings", len(resp.Warnings)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractName, "name", "", "company name (required)")
	extractCmd.Flags().StringVar(&extractDomain, "domain", "", "known company domain")
	extractCmd.Flags().StringVar(&extractMode, "mode", "comprehensive", "extraction mode: basic|comprehensive|contact_focused|financial_focused")
	extractCmd.Flags().IntVar(&extractMaxPages, "max-pages", 0, "override max pages to crawl (1-20)")
	extractCmd.Flags().IntVar(&extractTimeout, "timeout", 0, "override per-fetch timeout seconds (5-120)")
	_ = extractCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(extractCmd)
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/webintel/internal/model"
	"github.com/sells-group/webintel/internal/service"
)

var (
	batchNames  []string
	batchFile   string
	batchMode   string
	batchBucket string
	batchFormat string
	batchOut    string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Extract a batch of companies and export the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		names := append([]string(nil), batchNames...)
		if batchFile != "" {
			fromFile, err := readNames(batchFile)
			if err != nil {
				return err
			}
			names = append(names, fromFile...)
		}

		mode, err := model.ParseMode(batchMode)
		if err != nil {
			return err
		}

		svc, err := service.New(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init service")
		}
		defer svc.Close()

		batchID, err := svc.SubmitBatch(model.BatchRequest{
			CompanyNames: names,
			Mode:         mode,
			Bucket:       model.PriorityBucket(batchBucket),
			ExportFormat: model.ExportFormat(batchFormat),
			ExportPath:   batchOut,
		})
		if err != nil {
			return eris.Wrap(err, "submit batch")
		}

		log := zap.L().With(zap.String("batch_id", batchID))
		if err := svc.ObserveBatch(batchID, "cli", func(p model.BatchProgress) {
			log.Info("batch progress",
				zap.Int("completed", p.Completed),
				zap.Int("failed", p.Failed),
				zap.Int("total", p.Total),
				zap.Duration("eta", p.ETA),
			)
		}); err != nil {
			return err
		}

		snap, err := waitForBatch(ctx, svc, batchID)
		if err != nil {
			return err
		}

		log.Info("batch settled",
			zap.String("status", string(snap.Status)),
			zap.String("export_path", snap.ExportPath),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap.Summary)
	},
}

// waitForBatch polls until the batch settles or the context ends.
func waitForBatch(ctx context.Context, svc *service.Service, batchID string) (model.BatchSnapshot, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		snap, settled, err := svc.BatchResult(batchID)
		if err != nil {
			return model.BatchSnapshot{}, err
		}
		if settled {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			_ = svc.CancelBatch(batchID)
			return model.BatchSnapshot{}, eris.Wrap(ctx.Err(), "batch wait")
		case <-ticker.C:
		}
	}
}

// readNames loads one company name per line, skipping blanks and comments.
func readNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open names file")
	}
	defer f.Close() //nolint:errcheck

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	return names, eris.Wrap(scanner.Err(), "read names file")
}

func init() {
	batchCmd.Flags().StringSliceVar(&batchNames, "name", nil, "company name (repeatable)")
	batchCmd.Flags().StringVar(&batchFile, "file", "", "file with one company name per line")
	batchCmd.Flags().StringVar(&batchMode, "mode", "comprehensive", "extraction mode")
	batchCmd.Flags().StringVar(&batchBucket, "bucket", "normal", "priority bucket: urgent|high|normal|low")
	batchCmd.Flags().StringVar(&batchFormat, "format", "json", "export format: json|csv|tabular")
	batchCmd.Flags().StringVar(&batchOut, "out", "", "export path (ftp:// uploads)")
	rootCmd.AddCommand(batchCmd)
}

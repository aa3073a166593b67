package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/apflow/internal/ingest"
)

var processCmd = &cobra.Command{
	Use:   "process <invoice.json>",
	Short: "Validate and route a single extracted invoice",
	Long:  "Reads an extracted invoice from a JSON file, runs all reference-data checks, and prints the terminal run with its report.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read invoice file %s", args[0])
		}
		inv, err := ingest.DecodeInvoice(raw)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, runErr := env.Pipeline.Run(ctx, *inv)
		if run != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(run); err != nil {
				return eris.Wrap(err, "encode run")
			}
		}
		if runErr != nil {
			zap.L().Error("run failed", zap.Error(runErr))
			return eris.Wrap(runErr, "process invoice")
		}

		zap.L().Info("invoice processed",
			zap.String("run_id", run.ID),
			zap.String("decision", string(run.Decision.Decision)),
			zap.Float64("score", run.Confidence.OverallScore),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}

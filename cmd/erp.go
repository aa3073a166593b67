package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/apflow/internal/refserver"
)

var erpCmd = &cobra.Command{
	Use:   "erp",
	Short: "Run and manage the reference-data stub",
	Long:  "The stub stands in for a real ERP system: a SQLite supplier master behind the HTTP endpoints the pipeline's tool client consumes.",
}

var erpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reference-data stub server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := refserver.OpenStore(cfg.RefData.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := refserver.Seed(ctx, st, cfg.RefData.SeedFile); err != nil {
			return err
		}

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.RefData.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: refserver.New(st).Handler(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down reference-data stub")
			_ = srv.Shutdown(context.WithoutCancel(ctx))
		}()

		zap.L().Info("starting reference-data stub",
			zap.Int("port", port),
			zap.String("database", cfg.RefData.DatabasePath),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "reference-data stub listen")
		}

		return nil
	},
}

var erpSeedCmd = &cobra.Command{
	Use:   "seed [seed.yaml]",
	Short: "Seed the reference database",
	Long:  "Seeds an empty reference database from a YAML file, or with the built-in sample dataset when no file is given. Seeding a non-empty database is a no-op.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := refserver.OpenStore(cfg.RefData.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		path := cfg.RefData.SeedFile
		if len(args) == 1 {
			path = args[0]
		}
		return refserver.Seed(ctx, st, path)
	},
}

func init() {
	erpServeCmd.Flags().IntP("port", "p", 0, "stub server port (default from config)")
	erpCmd.AddCommand(erpServeCmd)
	erpCmd.AddCommand(erpSeedCmd)
	rootCmd.AddCommand(erpCmd)
}

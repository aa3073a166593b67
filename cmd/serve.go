package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/apflow/internal/ingest"
	"github.com/sells-group/apflow/internal/model"
	"github.com/sells-group/apflow/internal/store"
)

var servePort int

const maxInvoiceBytes = 1 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the invoice intake and run-status server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		maxRuns := cfg.Pipeline.MaxConcurrentRuns
		if maxRuns < 1 {
			maxRuns = 1
		}
		sem := semaphore.NewWeighted(int64(maxRuns))

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/invoices", func(w http.ResponseWriter, req *http.Request) {
			raw, err := io.ReadAll(io.LimitReader(req.Body, maxInvoiceBytes))
			if err != nil {
				respondJSON(w, http.StatusBadRequest, map[string]string{"error": "read request body"})
				return
			}
			inv, err := ingest.DecodeInvoice(raw)
			if err != nil {
				respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
				return
			}

			// Persist the Received run before acknowledging, so the run ID
			// handed back is immediately resolvable via GET /runs/{id}.
			runID := uuid.New().String()
			pending, err := env.Pipeline.Submit(req.Context(), runID, *inv)
			if err != nil {
				zap.L().Error("submit run", zap.String("run_id", runID), zap.Error(err))
				respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
				return
			}

			// Runs execute on the server context, not the request context:
			// the submitter disconnecting must not cancel the run. Acquire
			// only fails on shutdown; the run still executes so it reaches a
			// terminal state instead of being stranded in Received.
			go func() {
				if err := sem.Acquire(ctx, 1); err == nil {
					defer sem.Release(1)
				}

				run, err := env.Pipeline.Execute(ctx, pending)
				if err != nil {
					zap.L().Error("submitted run failed",
						zap.String("run_id", runID),
						zap.Error(err),
					)
					return
				}
				zap.L().Info("submitted run complete",
					zap.String("run_id", runID),
					zap.String("decision", string(run.Decision.Decision)),
				)
			}()

			respondJSON(w, http.StatusAccepted, map[string]string{
				"run_id": runID,
				"state":  string(model.RunStateReceived),
			})
		})

		r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			filter := store.RunFilter{
				State: model.RunState(req.URL.Query().Get("state")),
			}
			if v := req.URL.Query().Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					filter.Limit = n
				}
			}
			runs, err := env.Store.ListRuns(req.Context(), filter)
			if err != nil {
				zap.L().Error("list runs", zap.Error(err))
				respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
				return
			}
			respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
		})

		r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, err := env.Store.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				respondJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			respondJSON(w, http.StatusOK, run)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.WithoutCancel(ctx))
		}()

		zap.L().Info("starting intake server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

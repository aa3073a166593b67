package main

import (
	"context"
	"net/http"
	"time"

	"github.com/sells-group/apflow/internal/notify"
	"github.com/sells-group/apflow/internal/pipeline"
	"github.com/sells-group/apflow/internal/store"
	"github.com/sells-group/apflow/pkg/erp"
)

// pipelineEnv bundles the long-lived dependencies a command needs to run
// invoices.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

func (e *pipelineEnv) Close() {
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store)
}

func initERPClient() erp.Client {
	opts := []erp.ClientOption{
		erp.WithRateLimit(cfg.ERP.RateLimitRPS),
	}
	if cfg.ERP.TimeoutSecs > 0 {
		opts = append(opts, erp.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.ERP.TimeoutSecs) * time.Second,
		}))
	}
	return erp.NewClient(cfg.ERP.BaseURL, cfg.ERP.Key, opts...)
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	p := pipeline.New(cfg, st, initERPClient(), notify.NewWebhook(cfg.Notify))
	return &pipelineEnv{Store: st, Pipeline: p}, nil
}

// Package notify delivers the user-notification side effect for runs that
// end in rejection or manual review.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/apflow/internal/config"
	"github.com/sells-group/apflow/internal/model"
	"github.com/sells-group/apflow/internal/resilience"
)

// Notifier delivers one notification per run that needs human attention.
type Notifier interface {
	NotifyOutcome(ctx context.Context, run *model.PipelineRun) error
}

// Notification is the webhook payload.
type Notification struct {
	RunID         string         `json:"run_id"`
	Decision      model.Decision `json:"decision"`
	InvoiceNumber string         `json:"invoice_number"`
	SupplierName  string         `json:"supplier_name"`
	Reasons       []string       `json:"reasons,omitempty"`
	Report        *model.Report  `json:"report,omitempty"`
	State         model.RunState `json:"state"`
	Timestamp     time.Time      `json:"timestamp"`
}

// WebhookNotifier posts notifications to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier. An empty URL yields a no-op
// notifier so callers never need to branch.
func NewWebhook(cfg config.NotifyConfig) Notifier {
	if cfg.WebhookURL == "" {
		return noopNotifier{}
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
	}
}

// NotifyOutcome delivers the notification. Transient delivery failures are
// retried; the notification itself is still fired once per run — the caller
// invokes this exactly once per qualifying terminal.
func (n *WebhookNotifier) NotifyOutcome(ctx context.Context, run *model.PipelineRun) error {
	payload := Notification{
		RunID:     run.ID,
		State:     run.State,
		Report:    run.Report,
		Timestamp: time.Now().UTC(),
	}
	if run.Decision != nil {
		payload.Decision = run.Decision.Decision
		payload.Reasons = run.Decision.Reasons
	}
	if run.Report != nil {
		payload.InvoiceNumber = run.Report.InvoiceNumber
		payload.SupplierName = run.Report.SupplierName
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "notify: marshal payload")
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.ShouldRetry = shouldRetryDelivery
	err = resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		return n.send(ctx, body)
	})
	if err != nil {
		return eris.Wrapf(err, "notify: deliver for run %s", run.ID)
	}

	zap.L().Info("notification delivered",
		zap.String("run_id", run.ID),
		zap.String("decision", string(payload.Decision)),
	)
	return nil
}

func (n *WebhookNotifier) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &deliveryError{status: resp.StatusCode}
	}
	return nil
}

// deliveryError is a non-2xx webhook response. Server-side statuses are
// worth retrying; client errors are not.
type deliveryError struct {
	status int
}

func (e *deliveryError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.status)
}

func shouldRetryDelivery(err error) bool {
	var de *deliveryError
	if errors.As(err, &de) {
		return de.status >= 500 || de.status == http.StatusTooManyRequests
	}
	return resilience.IsTransient(err)
}

type noopNotifier struct{}

func (noopNotifier) NotifyOutcome(ctx context.Context, run *model.PipelineRun) error {
	zap.L().Debug("notification skipped, no webhook configured",
		zap.String("run_id", run.ID),
	)
	return nil
}

package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/apflow/internal/model"
	"github.com/sells-group/apflow/internal/store"
	"github.com/sells-group/apflow/pkg/erp"
)

// checkReply scripts one check's behaviour for the mock client.
type checkReply struct {
	resp *erp.CheckResponse
	err  error
}

func match() checkReply {
	return checkReply{resp: &erp.CheckResponse{Status: erp.StatusMatch}}
}

func mismatch(canonical string) checkReply {
	return checkReply{resp: &erp.CheckResponse{Status: erp.StatusMismatch, CanonicalValue: canonical, Message: "extracted value does not match reference data"}}
}

func unavailable() checkReply {
	return checkReply{err: &erp.ToolFailure{Kind: erp.FailureUnavailable, Op: "check", Err: eris.New("connection refused")}}
}

// mockClient scripts the ERP tool client per check kind and counts calls.
type mockClient struct {
	mu      sync.Mutex
	replies map[model.CheckKind]checkReply
	calls   map[model.CheckKind]int

	createFn    func(req *erp.CreateInvoiceRequest, key string) (*erp.CreateInvoiceResult, error)
	createCalls int
	createKeys  []string
}

func newMockClient() *mockClient {
	return &mockClient{
		replies: map[model.CheckKind]checkReply{
			model.CheckTaxID:         match(),
			model.CheckNationalID:    match(),
			model.CheckBank:          match(),
			model.CheckPurchaseOrder: match(),
		},
		calls: make(map[model.CheckKind]int),
	}
}

func (m *mockClient) reply(kind model.CheckKind) (*erp.CheckResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[kind]++
	r := m.replies[kind]
	return r.resp, r.err
}

func (m *mockClient) totalCheckCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *mockClient) CheckTaxID(ctx context.Context, value, hint string) (*erp.CheckResponse, error) {
	return m.reply(model.CheckTaxID)
}

func (m *mockClient) CheckNationalID(ctx context.Context, value string) (*erp.CheckResponse, error) {
	return m.reply(model.CheckNationalID)
}

func (m *mockClient) CheckBank(ctx context.Context, iban, bic, hint string) (*erp.CheckResponse, error) {
	return m.reply(model.CheckBank)
}

func (m *mockClient) CheckPurchaseOrder(ctx context.Context, reference string) (*erp.CheckResponse, error) {
	return m.reply(model.CheckPurchaseOrder)
}

func (m *mockClient) LookupSupplier(ctx context.Context, name string) ([]erp.SupplierCandidate, error) {
	return nil, nil
}

func (m *mockClient) CreateInvoice(ctx context.Context, req *erp.CreateInvoiceRequest, key string) (*erp.CreateInvoiceResult, error) {
	m.mu.Lock()
	m.createCalls++
	m.createKeys = append(m.createKeys, key)
	fn := m.createFn
	m.mu.Unlock()

	if fn != nil {
		return fn(req, key)
	}
	return &erp.CreateInvoiceResult{InvoiceID: "ERP-INV-1"}, nil
}

// memStore is an in-memory store.Store.
type memStore struct {
	mu   sync.Mutex
	runs map[string]*model.PipelineRun
}

func newMemStore() *memStore {
	return &memStore{runs: make(map[string]*model.PipelineRun)}
}

func (s *memStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *memStore) UpdateRunState(ctx context.Context, runID string, state model.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return eris.Errorf("run %s not found", runID)
	}
	r.State = state
	return nil
}

func (s *memStore) FinishRun(ctx context.Context, run *model.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return eris.Errorf("run %s not found", run.ID)
	}
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *memStore) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, eris.Errorf("run %s not found", runID)
	}
	return r, nil
}

func (s *memStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.PipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.PipelineRun
	for _, r := range s.runs {
		if filter.State != "" && r.State != filter.State {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *memStore) Migrate(ctx context.Context) error { return nil }
func (s *memStore) Close() error                      { return nil }

// recordingNotifier counts notifications per run.
type recordingNotifier struct {
	mu    sync.Mutex
	fired []*model.PipelineRun
}

func (n *recordingNotifier) NotifyOutcome(ctx context.Context, run *model.PipelineRun) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fired = append(n.fired, run)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.fired)
}

// failingCreateStore refuses the initial persist of every run.
type failingCreateStore struct {
	*memStore
}

func (s *failingCreateStore) CreateRun(ctx context.Context, run *model.PipelineRun) error {
	return eris.New("store offline")
}

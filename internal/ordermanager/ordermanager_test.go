package ordermanager

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/weaver-engine/weaver/internal/domain"
	"github.com/weaver-engine/weaver/internal/eventlog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memOrderStore is a minimal in-memory domain.OrderStore for exercising
// OrderManager without a database.
type memOrderStore struct {
	mu     sync.Mutex
	byID   map[string]domain.OrderState
	byCOID map[string]string // run_id:client_order_id -> order id
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{byID: make(map[string]domain.OrderState), byCOID: make(map[string]string)}
}

func (s *memOrderStore) Create(_ context.Context, order domain.OrderState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := order.RunID + ":" + order.ClientOrderID
	if _, ok := s.byCOID[key]; ok {
		return domain.ErrAlreadyExists
	}
	s.byCOID[key] = order.ID
	s.byID[order.ID] = order
	return nil
}

func (s *memOrderStore) GetByClientOrderID(_ context.Context, runID, clientOrderID string) (domain.OrderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCOID[runID+":"+clientOrderID]
	if !ok {
		return domain.OrderState{}, domain.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *memOrderStore) GetByID(_ context.Context, id string) (domain.OrderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.byID[id]
	if !ok {
		return domain.OrderState{}, domain.ErrNotFound
	}
	return order, nil
}

func (s *memOrderStore) UpdateState(_ context.Context, order domain.OrderState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[order.ID]; !ok {
		return domain.ErrNotFound
	}
	s.byID[order.ID] = order
	return nil
}

func (s *memOrderStore) ListOpenByRun(_ context.Context, runID string) ([]domain.OrderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderState
	for _, o := range s.byID {
		if o.RunID == runID && !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) ListByRun(_ context.Context, runID string, _ domain.ListOpts) ([]domain.OrderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderState
	for _, o := range s.byID {
		if o.RunID == runID {
			out = append(out, o)
		}
	}
	return out, nil
}

// memFillStore is a minimal in-memory domain.FillStore.
type memFillStore struct {
	mu    sync.Mutex
	fills []domain.Fill
}

func newMemFillStore() *memFillStore { return &memFillStore{} }

func (s *memFillStore) Create(_ context.Context, fill domain.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, fill)
	return nil
}

func (s *memFillStore) ListByOrder(_ context.Context, orderID string) ([]domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Fill
	for _, f := range s.fills {
		if f.OrderID == orderID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *memFillStore) ListByRun(_ context.Context, runID string, _ domain.ListOpts) ([]domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Fill
	for _, f := range s.fills {
		if f.RunID == runID {
			out = append(out, f)
		}
	}
	return out, nil
}

// fakeAdapter is a stub adapter.ExchangeAdapter whose SubmitOrder/CancelOrder
// behavior is configurable per test.
type fakeAdapter struct {
	submitResult domain.OrderState
	submitErr    error
	cancelErr    error
	submitted    []domain.OrderIntent
}

func (a *fakeAdapter) ID() string                       { return "fake" }
func (a *fakeAdapter) Connect(context.Context) error    { return nil }
func (a *fakeAdapter) Disconnect(context.Context) error { return nil }
func (a *fakeAdapter) GetOrder(context.Context, string) (domain.OrderState, error) {
	return domain.OrderState{}, domain.ErrNotFound
}
func (a *fakeAdapter) StreamFills(context.Context) (<-chan domain.Fill, error) {
	ch := make(chan domain.Fill)
	close(ch)
	return ch, nil
}

func (a *fakeAdapter) SubmitOrder(_ context.Context, intent domain.OrderIntent) (domain.OrderState, error) {
	a.submitted = append(a.submitted, intent)
	if a.submitErr != nil {
		return domain.OrderState{}, a.submitErr
	}
	return a.submitResult, nil
}

func (a *fakeAdapter) CancelOrder(context.Context, string) error {
	return a.cancelErr
}

func baseIntent() domain.OrderIntent {
	return domain.OrderIntent{
		ClientOrderID: "coid-1",
		RunID:         "run-1",
		Symbol:        "AAPL",
		Side:          domain.OrderSideBuy,
		Kind:          domain.OrderKindMarket,
		TimeInForce:   domain.TimeInForceDay,
		Quantity:      decimal.NewFromInt(10),
	}
}

func newManager(t *testing.T, adapter *fakeAdapter) (*Manager, *eventlog.MemoryLog) {
	t.Helper()
	log := eventlog.NewMemoryLog(testLogger())
	mgr := New(newMemOrderStore(), newMemFillStore(), log, adapter, testLogger())
	return mgr, log
}

func subscribeTypes(log *eventlog.MemoryLog) (*[]string, func()) {
	var types []string
	var mu sync.Mutex
	id := log.SubscribeFunc([]string{"*"}, nil, func(env domain.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, env.Type)
	})
	return &types, func() { log.Unsubscribe(id) }
}

func TestSubmit_AcceptedAsSubmittedOnly(t *testing.T) {
	adapter := &fakeAdapter{submitResult: domain.OrderState{Status: domain.OrderStatusSubmitted, ExchangeOrderID: "ex-1"}}
	mgr, log := newManager(t, adapter)
	types, unsub := subscribeTypes(log)
	defer unsub()

	order, err := mgr.Submit(context.Background(), baseIntent(), domain.Envelope{})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusSubmitted, order.Status)
	require.Equal(t, "ex-1", order.ExchangeOrderID)
	require.Equal(t, []string{"orders.Created", "orders.Submitted"}, *types)
}

func TestSubmit_SynchronousFillSkipsAcceptedEvent(t *testing.T) {
	adapter := &fakeAdapter{submitResult: domain.OrderState{Status: domain.OrderStatusFilled, ExchangeOrderID: "ex-2"}}
	mgr, log := newManager(t, adapter)
	types, unsub := subscribeTypes(log)
	defer unsub()

	order, err := mgr.Submit(context.Background(), baseIntent(), domain.Envelope{})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, order.Status)
	require.Equal(t, []string{"orders.Created", "orders.Submitted", "orders.Filled"}, *types)
}

func TestSubmit_CausationChainFollowsCause(t *testing.T) {
	adapter := &fakeAdapter{submitResult: domain.OrderState{Status: domain.OrderStatusSubmitted}}
	mgr, log := newManager(t, adapter)

	var envs []domain.Envelope
	var mu sync.Mutex
	id := log.SubscribeFunc([]string{"*"}, nil, func(env domain.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		envs = append(envs, env)
	})
	defer log.Unsubscribe(id)

	cause := domain.Envelope{ID: uuid.NewString(), Type: "live.PlaceOrder", CorrID: "corr-xyz"}
	_, err := mgr.Submit(context.Background(), baseIntent(), cause)
	require.NoError(t, err)

	require.Len(t, envs, 2)
	created, submitted := envs[0], envs[1]
	require.Equal(t, "corr-xyz", created.CorrID)
	require.Equal(t, cause.ID, created.CausationID)
	require.Equal(t, "corr-xyz", submitted.CorrID)
	require.Equal(t, created.ID, submitted.CausationID)
}

func TestSubmit_DuplicateClientOrderIDIsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{submitResult: domain.OrderState{Status: domain.OrderStatusSubmitted}}
	mgr, _ := newManager(t, adapter)

	first, err := mgr.Submit(context.Background(), baseIntent(), domain.Envelope{})
	require.NoError(t, err)

	second, err := mgr.Submit(context.Background(), baseIntent(), domain.Envelope{})
	require.ErrorIs(t, err, domain.ErrIdempotentReplay)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, adapter.submitted, 1, "adapter must not be called twice for the same client_order_id")
}

func TestSubmit_DurableAdapterErrorRejects(t *testing.T) {
	adapter := &fakeAdapter{submitErr: domain.ErrDurable}
	mgr, log := newManager(t, adapter)
	types, unsub := subscribeTypes(log)
	defer unsub()

	order, err := mgr.Submit(context.Background(), baseIntent(), domain.Envelope{})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusRejected, order.Status)
	require.Equal(t, []string{"orders.Created", "orders.Rejected"}, *types)
}

func TestSubmit_TransientAdapterErrorLeavesOrderSubmitting(t *testing.T) {
	adapter := &fakeAdapter{submitErr: domain.ErrTransientExternal}
	mgr, _ := newManager(t, adapter)

	order, err := mgr.Submit(context.Background(), baseIntent(), domain.Envelope{})
	require.Error(t, err)
	require.Equal(t, domain.OrderStatusSubmitting, order.Status)
}

func TestCancel_TerminalOrderIsNoOp(t *testing.T) {
	adapter := &fakeAdapter{submitResult: domain.OrderState{Status: domain.OrderStatusFilled}}
	mgr, _ := newManager(t, adapter)

	order, err := mgr.Submit(context.Background(), baseIntent(), domain.Envelope{})
	require.NoError(t, err)
	require.True(t, order.Status.Terminal())

	err = mgr.Cancel(context.Background(), order.ID, domain.Envelope{})
	require.NoError(t, err)
}

func TestCancel_OpenOrderCancels(t *testing.T) {
	adapter := &fakeAdapter{submitResult: domain.OrderState{Status: domain.OrderStatusSubmitted}}
	mgr, log := newManager(t, adapter)

	order, err := mgr.Submit(context.Background(), baseIntent(), domain.Envelope{})
	require.NoError(t, err)

	types, unsub := subscribeTypes(log)
	defer unsub()

	err = mgr.Cancel(context.Background(), order.ID, domain.Envelope{})
	require.NoError(t, err)
	require.Equal(t, []string{"orders.Cancelled"}, *types)

	got, err := newMemOrderStoreLookup(t, mgr, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, got.Status)
}

// newMemOrderStoreLookup reaches back into the manager's store to assert
// persisted state after Cancel/RecordFill.
func newMemOrderStoreLookup(t *testing.T, mgr *Manager, orderID string) (domain.OrderState, error) {
	t.Helper()
	return mgr.orders.GetByID(context.Background(), orderID)
}

func TestRecordFill_PartialThenFilledSumsQuantity(t *testing.T) {
	adapter := &fakeAdapter{submitResult: domain.OrderState{Status: domain.OrderStatusSubmitted}}
	mgr, log := newManager(t, adapter)

	order, err := mgr.Submit(context.Background(), baseIntent(), domain.Envelope{})
	require.NoError(t, err)

	types, unsub := subscribeTypes(log)
	defer unsub()

	fill1 := domain.Fill{OrderID: order.ID, RunID: order.RunID, Quantity: decimal.NewFromInt(4), Price: decimal.NewFromInt(100)}
	updated, err := mgr.RecordFill(context.Background(), fill1, domain.Envelope{})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPartial, updated.Status)
	require.True(t, updated.FilledQty.Equal(decimal.NewFromInt(4)))

	fill2 := domain.Fill{OrderID: order.ID, RunID: order.RunID, Quantity: decimal.NewFromInt(6), Price: decimal.NewFromInt(102)}
	final, err := mgr.RecordFill(context.Background(), fill2, domain.Envelope{})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, final.Status)
	require.True(t, final.FilledQty.Equal(decimal.NewFromInt(10)))
	require.NotNil(t, final.FilledAt)

	require.Equal(t, []string{"orders.PartiallyFilled", "orders.Filled"}, *types)
}

func TestRecordFill_AgainstTerminalOrderConflicts(t *testing.T) {
	adapter := &fakeAdapter{submitResult: domain.OrderState{Status: domain.OrderStatusFilled}}
	mgr, _ := newManager(t, adapter)

	order, err := mgr.Submit(context.Background(), baseIntent(), domain.Envelope{})
	require.NoError(t, err)

	_, err = mgr.RecordFill(context.Background(), domain.Fill{OrderID: order.ID, RunID: order.RunID, Quantity: decimal.NewFromInt(1)}, domain.Envelope{})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestValidateIntent_StopLimitRequiresBothPrices(t *testing.T) {
	adapter := &fakeAdapter{submitResult: domain.OrderState{Status: domain.OrderStatusSubmitted}}
	mgr, _ := newManager(t, adapter)

	intent := baseIntent()
	intent.Kind = domain.OrderKindStopLimit
	intent.LimitPrice = decimal.NewFromInt(50)
	intent.StopPrice = decimal.NewFromInt(48)

	order, err := mgr.Submit(context.Background(), intent, domain.Envelope{})
	require.NoError(t, err)
	require.Equal(t, domain.OrderKindStopLimit, order.Kind)
}

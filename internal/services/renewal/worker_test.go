package renewal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rifat79/renewal-service/internal/domain/models"
	"github.com/Rifat79/renewal-service/internal/domain/ports"
	pkgerrors "github.com/Rifat79/renewal-service/pkg/errors"
	"github.com/Rifat79/renewal-service/pkg/timeutil"
)

// MockGateway mocks the charge gateway
type MockGateway struct {
	mock.Mock
	operator models.OperatorCode
}

func (m *MockGateway) Charge(ctx context.Context, req *ports.ChargeRequest) (*ports.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.ChargeResult), args.Error(1)
}

func (m *MockGateway) Operator() models.OperatorCode { return m.operator }

// MockQueue mocks the job queue
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, queue string, job *models.RenewalJob, opts ports.EnqueueOptions) error {
	args := m.Called(ctx, queue, job, opts)
	return args.Error(0)
}

func (m *MockQueue) RegisterWorker(queue string, concurrency int, handler ports.JobHandler) error {
	args := m.Called(queue, concurrency, handler)
	return args.Error(0)
}

// memLedger captures appended entries
type memLedger struct {
	entries [][]byte
	err     error
}

func (l *memLedger) PushTail(ctx context.Context, entry []byte) error {
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memLedger) PopHead(ctx context.Context) ([]byte, error) { return nil, nil }
func (l *memLedger) Len(ctx context.Context) (int64, error)      { return int64(len(l.entries)), nil }

func renewalJob() *models.RenewalJob {
	return &models.RenewalJob{
		SubscriptionID: "sub-1",
		Snapshot: models.Subscription{
			ID:                    10,
			SubscriptionID:        "sub-1",
			MSISDN:                "8801700000001",
			Status:                models.StatusActive,
			AutoRenew:             true,
			PaymentChannel:        models.PaymentChannel{ID: 1, Code: models.OperatorGP},
			ProductPlan:           models.ProductPlan{ID: 3, Name: "monthly", BillingCycleDays: 30},
			PlanPricing:           models.PlanPricing{ID: 4, BaseAmount: decimal.NewFromInt(50), Currency: "BDT"},
			Product:               models.Product{ID: "NewsPortal", Name: "News Portal"},
			Merchant:              models.Merchant{ID: "m-1", Name: "Acme"},
			MerchantTransactionID: "MTX-001",
		},
	}
}

func newTestWorker(gw *MockGateway, q *MockQueue, ledger *memLedger, requeue bool, now time.Time) *Worker {
	w := NewWorker(gw, q, ledger, "renewal_gp", requeue, zap.NewNop())
	w.now = func() time.Time { return now }
	return w
}

func TestWorker_SuccessAppendsOutcome(t *testing.T) {
	gw := &MockGateway{operator: models.OperatorGP}
	q := new(MockQueue)
	ledger := &memLedger{}

	gw.On("Charge", mock.Anything, mock.MatchedBy(func(req *ports.ChargeRequest) bool {
		return req.SubscriptionID == "sub-1" &&
			req.MSISDN == "8801700000001" &&
			req.Amount.Equal(decimal.NewFromInt(50)) &&
			req.Currency == "BDT" &&
			req.ReferenceCode == "MTX-001" &&
			req.BillingCycleDays == 30 &&
			req.PaymentReferenceID != ""
	})).Return(&ports.ChargeResult{Success: true, HTTPStatus: 200, DurationMS: 120, Message: "charged"}, nil)

	w := newTestWorker(gw, q, ledger, true, time.Date(2026, 8, 24, 4, 0, 0, 0, time.UTC))
	require.NoError(t, w.Handle(context.Background(), renewalJob()))

	require.Len(t, ledger.entries, 1)
	outcome, err := models.UnmarshalChargeOutcome(ledger.entries[0])
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "sub-1", outcome.SubscriptionID)
	assert.NotEmpty(t, outcome.PaymentReferenceID)
	assert.Equal(t, 200, outcome.HTTPStatus)

	// Success never schedules a retry.
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_FailureRequeuesWhenRetryFitsSameDay(t *testing.T) {
	// 04:00 Dhaka (22:00 UTC previous day): 8h retry lands at noon, same day.
	loc := timeutil.LoadDhaka()
	now := time.Date(2026, 8, 24, 4, 0, 0, 0, loc).UTC()

	gw := &MockGateway{operator: models.OperatorGP}
	q := new(MockQueue)
	ledger := &memLedger{}

	gw.On("Charge", mock.Anything, mock.Anything).
		Return(&ports.ChargeResult{Success: false, HTTPStatus: 402, Message: "insufficient balance"}, nil)
	q.On("Enqueue", mock.Anything, "renewal_gp", mock.Anything, mock.MatchedBy(func(opts ports.EnqueueOptions) bool {
		return opts.Delay == 8*time.Hour &&
			opts.JobID == "sub-1:retry" &&
			opts.RemoveOnComplete && opts.RemoveOnFail
	})).Return(nil).Once()

	w := newTestWorker(gw, q, ledger, true, now)
	require.NoError(t, w.Handle(context.Background(), renewalJob()))

	// The outcome is appended even when a retry was scheduled.
	require.Len(t, ledger.entries, 1)
	q.AssertExpectations(t)
}

func TestWorker_FailureNotRequeuedAfterCutoff(t *testing.T) {
	// 19:00 Dhaka: 8h retry would land at 03:00 next day.
	loc := timeutil.LoadDhaka()
	now := time.Date(2026, 8, 24, 19, 0, 0, 0, loc).UTC()

	gw := &MockGateway{operator: models.OperatorGP}
	q := new(MockQueue)
	ledger := &memLedger{}

	gw.On("Charge", mock.Anything, mock.Anything).
		Return(&ports.ChargeResult{Success: false, HTTPStatus: 500}, nil)

	w := newTestWorker(gw, q, ledger, true, now)
	require.NoError(t, w.Handle(context.Background(), renewalJob()))

	require.Len(t, ledger.entries, 1)
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_RobiNeverRequeues(t *testing.T) {
	loc := timeutil.LoadDhaka()
	now := time.Date(2026, 8, 24, 4, 0, 0, 0, loc).UTC()

	gw := &MockGateway{operator: models.OperatorRobi}
	q := new(MockQueue)
	ledger := &memLedger{}

	gw.On("Charge", mock.Anything, mock.Anything).
		Return(&ports.ChargeResult{Success: false, HTTPStatus: 200, Message: "Refused"}, nil)

	w := NewWorker(gw, q, ledger, "renewal_robi", false, zap.NewNop())
	w.now = func() time.Time { return now }

	require.NoError(t, w.Handle(context.Background(), renewalJob()))
	require.Len(t, ledger.entries, 1)
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_MissingConfigSkipsWithoutLedgerAppend(t *testing.T) {
	gw := &MockGateway{operator: models.OperatorRobi}
	q := new(MockQueue)
	ledger := &memLedger{}

	gw.On("Charge", mock.Anything, mock.Anything).
		Return(nil, pkgerrors.NewChargeError("ROBI_CONFIG_MISSING", "robi charging configuration is required", pkgerrors.CategoryConfigMissing, false))

	w := newTestWorker(gw, q, ledger, false, time.Now().UTC())
	err := w.Handle(context.Background(), renewalJob())

	// Not an error: the job completes and tomorrow's dispatch retries.
	require.NoError(t, err)
	assert.Empty(t, ledger.entries)
}

func TestWorker_GatewayProgrammerErrorSurfaces(t *testing.T) {
	gw := &MockGateway{operator: models.OperatorGP}
	q := new(MockQueue)
	ledger := &memLedger{}

	gw.On("Charge", mock.Anything, mock.Anything).Return(nil, errors.New("marshal request: boom"))

	w := newTestWorker(gw, q, ledger, true, time.Now().UTC())
	err := w.Handle(context.Background(), renewalJob())

	require.Error(t, err)
	assert.Empty(t, ledger.entries)
}

func TestWorker_LedgerFailureSurfaces(t *testing.T) {
	gw := &MockGateway{operator: models.OperatorGP}
	q := new(MockQueue)
	ledger := &memLedger{err: errors.New("redis down")}

	gw.On("Charge", mock.Anything, mock.Anything).
		Return(&ports.ChargeResult{Success: true, HTTPStatus: 200}, nil)

	w := newTestWorker(gw, q, ledger, true, time.Now().UTC())
	err := w.Handle(context.Background(), renewalJob())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger append")
}

package processor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/entitlement-engine/internal/config"
	"github.com/magabrotheeeer/entitlement-engine/internal/models"
	"github.com/magabrotheeeer/entitlement-engine/internal/paymentprovider"
	"github.com/magabrotheeeer/entitlement-engine/internal/services/ledger"
)

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) CreatePayment(ctx context.Context, req paymentprovider.CreatePaymentRequest) (*paymentprovider.CreatePaymentResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*paymentprovider.CreatePaymentResponse), args.Error(1)
}

type IngesterMock struct{ mock.Mock }

func (m *IngesterMock) Ingest(ctx context.Context, ev models.PaymentEvent) (*ledger.Result, error) {
	args := m.Called(ctx, ev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Result), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

var job = models.ChargeJob{
	TenantUID: "tenant-1",
	Kind:      models.PaymentKindRetry,
	Attempt:   2,
	Amount:    1900,
	Currency:  "USD",
	AttemptID: "retry:tenant-1:1738411200:2",
}

func TestService_Process(t *testing.T) {
	now := time.Date(2025, 2, 11, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		setupMocks func(g *GatewayMock, i *IngesterMock)
		wantErr    bool
	}{
		{
			name: "succeeded charge is ingested as terminal success",
			setupMocks: func(g *GatewayMock, i *IngesterMock) {
				g.On("CreatePayment", mock.Anything, mock.MatchedBy(func(req paymentprovider.CreatePaymentRequest) bool {
					return req.IdempotenceKey == job.AttemptID && req.Amount.Value == "19.00"
				})).Return(&paymentprovider.CreatePaymentResponse{
					ID: "pay_9", Status: paymentprovider.StatusSucceeded,
				}, nil).Once()
				i.On("Ingest", mock.Anything, mock.MatchedBy(func(ev models.PaymentEvent) bool {
					return ev.ExternalID == "pay_9" &&
						ev.Outcome == models.OutcomeSucceeded &&
						ev.Terminal && ev.Attempt == 2
				})).Return(&ledger.Result{Applied: true}, nil).Once()
			},
		},
		{
			name: "canceled charge is ingested as terminal failure",
			setupMocks: func(g *GatewayMock, i *IngesterMock) {
				g.On("CreatePayment", mock.Anything, mock.Anything).
					Return(&paymentprovider.CreatePaymentResponse{
						ID: "pay_10", Status: paymentprovider.StatusCanceled,
					}, nil).Once()
				i.On("Ingest", mock.Anything, mock.MatchedBy(func(ev models.PaymentEvent) bool {
					return ev.Outcome == models.OutcomeFailed && ev.Terminal
				})).Return(&ledger.Result{Applied: true}, nil).Once()
			},
		},
		{
			name: "ambiguous outcome requeues without ingesting",
			setupMocks: func(g *GatewayMock, i *IngesterMock) {
				g.On("CreatePayment", mock.Anything, mock.Anything).
					Return(nil, paymentprovider.ErrAmbiguousOutcome).Once()
			},
			wantErr: true,
		},
		{
			name: "pending charge waits for the webhook",
			setupMocks: func(g *GatewayMock, i *IngesterMock) {
				g.On("CreatePayment", mock.Anything, mock.Anything).
					Return(&paymentprovider.CreatePaymentResponse{
						ID: "pay_11", Status: paymentprovider.StatusPending,
					}, nil).Once()
			},
		},
		{
			name: "conflicting recorded outcome is not retried",
			setupMocks: func(g *GatewayMock, i *IngesterMock) {
				g.On("CreatePayment", mock.Anything, mock.Anything).
					Return(&paymentprovider.CreatePaymentResponse{
						ID: "pay_12", Status: paymentprovider.StatusSucceeded,
					}, nil).Once()
				i.On("Ingest", mock.Anything, mock.Anything).
					Return(nil, models.ErrConflictingPaymentOutcome).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(GatewayMock)
			ing := new(IngesterMock)
			svc := New(gw, ing, config.DefaultBilling(), newNoopLogger())
			svc.now = func() time.Time { return now }
			tt.setupMocks(gw, ing)

			err := svc.Process(context.Background(), job)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			gw.AssertExpectations(t)
			ing.AssertExpectations(t)
		})
	}
}

func TestService_HandleMessage_Garbage(t *testing.T) {
	svc := New(new(GatewayMock), new(IngesterMock), config.DefaultBilling(), newNoopLogger())

	// Нечитаемое сообщение отбрасывается без requeue.
	assert.NoError(t, svc.HandleMessage([]byte("{not json")))
}

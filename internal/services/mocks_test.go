package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/wikisolucoes/ledger-core/internal/gateway"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Authenticate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockGateway) CreatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentResult), args.Error(1)
}

func (m *MockGateway) CreateWithdrawal(ctx context.Context, req gateway.WithdrawalRequest) (*gateway.WithdrawalResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.WithdrawalResult), args.Error(1)
}

func (m *MockGateway) GetStatus(ctx context.Context, externalID string) (string, error) {
	args := m.Called(ctx, externalID)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) GetBalance(ctx context.Context, accountID string) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockGateway) ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]gateway.Transaction, error) {
	args := m.Called(ctx, accountID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gateway.Transaction), args.Error(1)
}

func (m *MockGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	args := m.Called(payload, signature)
	return args.Bool(0)
}

package connection

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockCoreProvider is a mock implementation of the CoreProvider interface for testing.
type MockCoreProvider struct {
	mock.Mock
}

// RequestCore is the mock implementation of the RequestCore method.
func (m *MockCoreProvider) RequestCore(ctx context.Context, accountID uuid.UUID) (Core, error) {
	args := m.Called(ctx, accountID)
	core, _ := args.Get(0).(Core)
	return core, args.Error(1)
}

// ReturnCore is the mock implementation of the ReturnCore method.
func (m *MockCoreProvider) ReturnCore(ctx context.Context, accountID uuid.UUID) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

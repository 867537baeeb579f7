package driver

import (
	"context"
	"sync"

	"github.com/google/uuid"

	orchestrator "github.com/getpup/metal-orchestrator"
)

// MockDriver is a mock implementation of OOBDriver for testing.
// It reports OOB types only when DriverType is TypeOOB.
type MockDriver struct {
	mu sync.Mutex

	DriverName string
	DriverType Type
	Actions    []orchestrator.Action
	OOBTypes   []string

	ExecuteTaskFunc  func(ctx context.Context, taskID uuid.UUID) error
	ExecuteTaskCalls []uuid.UUID
}

// Compile-time check that MockDriver implements OOBDriver.
var _ OOBDriver = (*MockDriver)(nil)

// NewMockDriver creates a MockDriver supporting actions.
func NewMockDriver(name string, typ Type, actions ...orchestrator.Action) *MockDriver {
	return &MockDriver{
		DriverName:       name,
		DriverType:       typ,
		Actions:          actions,
		ExecuteTaskCalls: make([]uuid.UUID, 0),
	}
}

// Name implements Driver.
func (m *MockDriver) Name() string { return m.DriverName }

// Type implements Driver.
func (m *MockDriver) Type() Type { return m.DriverType }

// SupportedActions implements Driver.
func (m *MockDriver) SupportedActions() []orchestrator.Action { return m.Actions }

// SupportsOOBType implements OOBDriver.
func (m *MockDriver) SupportsOOBType(oobType string) bool {
	if m.DriverType != TypeOOB {
		return false
	}
	for _, t := range m.OOBTypes {
		if t == oobType {
			return true
		}
	}
	return false
}

// ExecuteTask implements Driver.
// It records the call, then calls ExecuteTaskFunc if set and returns nil otherwise.
func (m *MockDriver) ExecuteTask(ctx context.Context, taskID uuid.UUID) error {
	m.mu.Lock()
	m.ExecuteTaskCalls = append(m.ExecuteTaskCalls, taskID)
	fn := m.ExecuteTaskFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, taskID)
	}
	return nil
}

// Calls returns a copy of the recorded ExecuteTask calls.
func (m *MockDriver) Calls() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID{}, m.ExecuteTaskCalls...)
}

// Reset clears the call history.
func (m *MockDriver) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExecuteTaskCalls = make([]uuid.UUID, 0)
}

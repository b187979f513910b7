package device

import (
	"context"
	"fmt"
	"sync"
)

// MockRuntime simulates a multi-device runtime in host memory. It enforces
// a per-device byte budget so allocation failures are reproducible in tests
// and in GPU-less deployments.
type MockRuntime struct {
	mu        sync.Mutex
	devices   int
	budget    int64
	allocated []int64
}

var _ Runtime = (*MockRuntime)(nil)

func NewMockRuntime(devices int, bytesPerDevice int64) *MockRuntime {
	if devices <= 0 {
		devices = 1
	}
	if bytesPerDevice <= 0 {
		bytesPerDevice = 1 << 30
	}
	return &MockRuntime{
		devices:   devices,
		budget:    bytesPerDevice,
		allocated: make([]int64, devices),
	}
}

func (m *MockRuntime) Count() int { return m.devices }

func (m *MockRuntime) CopyPeer(_ context.Context, src Tensor, dstDevice int) (Tensor, error) {
	if err := src.Validate(); err != nil {
		return Tensor{}, err
	}
	if src.Device < 0 || src.Device >= m.devices {
		return Tensor{}, fmt.Errorf("%w: source %d", ErrInvalidDevice, src.Device)
	}
	if dstDevice < 0 || dstDevice >= m.devices {
		return Tensor{}, fmt.Errorf("%w: destination %d", ErrInvalidDevice, dstDevice)
	}

	size := int64(len(src.Data))
	m.mu.Lock()
	if m.allocated[dstDevice]+size > m.budget {
		m.mu.Unlock()
		return Tensor{}, fmt.Errorf("%w: device %d over budget (%d+%d > %d)",
			ErrAllocation, dstDevice, m.allocated[dstDevice], size, m.budget)
	}
	m.allocated[dstDevice] += size
	m.mu.Unlock()

	dst := Tensor{
		Device: dstDevice,
		DType:  src.DType,
		Shape:  append([]int(nil), src.Shape...),
		Data:   append([]byte(nil), src.Data...),
	}
	return dst, nil
}

func (m *MockRuntime) Free(t Tensor) error {
	if t.Device < 0 || t.Device >= m.devices {
		return fmt.Errorf("%w: %d", ErrInvalidDevice, t.Device)
	}
	m.mu.Lock()
	m.allocated[t.Device] -= int64(len(t.Data))
	if m.allocated[t.Device] < 0 {
		m.allocated[t.Device] = 0
	}
	m.mu.Unlock()
	return nil
}

// Allocated reports the bytes currently resident on dev.
func (m *MockRuntime) Allocated(dev int) int64 {
	if dev < 0 || dev >= m.devices {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocated[dev]
}

package blob

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MockUploader records uploads and hands back deterministic URLs.
type MockUploader struct {
	mu         sync.Mutex
	Puts       [][]byte
	ShouldFail bool
}

func (m *MockUploader) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		return "", errors.New("mock blob upload failed")
	}
	m.Puts = append(m.Puts, data)
	return fmt.Sprintf("mock://media/%d", len(m.Puts)), nil
}

package util

import (
	"sync"

	"github.com/influxdata/influxdb-client-go/api/write"
)

// mockPointLimit bounds memory when the mock runs in place of a real
// writer for the life of the process.
const mockPointLimit = 1024

// MockWriteAPI stands in for an InfluxDB writer when none is configured.
// It keeps the names of the most recent points so tests can look at them.
type MockWriteAPI struct {
	mu     sync.Mutex
	points []string
}

func (m *MockWriteAPI) WriteRecord(line string) {}

func (m *MockWriteAPI) WritePoint(point *write.Point) {
	m.mu.Lock()
	m.points = append(m.points, point.Name())
	if len(m.points) > mockPointLimit {
		m.points = append(m.points[:0], m.points[len(m.points)-mockPointLimit:]...)
	}
	m.mu.Unlock()
}

func (m *MockWriteAPI) Flush() {}

func (m *MockWriteAPI) Close() {}

func (m *MockWriteAPI) Errors() <-chan error { return nil }

// Points returns the names of the points written so far, oldest first.
func (m *MockWriteAPI) Points() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.points))
	copy(out, m.points)
	return out
}

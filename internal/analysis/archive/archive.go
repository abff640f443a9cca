// Package archive keeps a copy of every available analysis report.
package archive

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	id "stockwatch/pkg/domain"
)

const timestampLayout = "20060102T150405.000Z"

// Key is the object key of a report: {prefix}/{orgID}/{timestamp}.txt.
func Key(prefix string, orgID id.OrganizationID, at time.Time) string {
	return path.Join(prefix, orgID.String(), at.UTC().Format(timestampLayout)+".txt")
}

// Memory keeps reports in process.
type Memory struct {
	mu      sync.Mutex
	prefix  string
	reports map[string]string
}

func NewMemory(prefix string) *Memory {
	return &Memory{prefix: prefix, reports: make(map[string]string)}
}

func (m *Memory) Put(_ context.Context, orgID id.OrganizationID, at time.Time, report string) (string, error) {
	key := Key(m.prefix, orgID, at)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[key] = report
	return key, nil
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[key]
	if !ok {
		return "", fmt.Errorf("report %s not found", key)
	}
	return report, nil
}

package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const auditFilePrefix = "webhooks-"

// AuditLog appends webhook records to daily JSONL files.
type AuditLog struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewAuditLog(dir string) (*AuditLog, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &AuditLog{dir: dir, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Append writes one record. The raw payload is not written to the audit log.
func (l *AuditLog) Append(record WebhookRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = l.now()
	}
	record.Payload = nil
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.OpenFile(l.pathFor(record.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write(append(line, '\n'))
	return err
}

// Prune deletes daily files older than retention and returns how many were removed.
func (l *AuditLog) Prune(retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-retention).Truncate(24 * time.Hour)

	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, auditFilePrefix) || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		day, err := time.Parse("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, auditFilePrefix), ".jsonl"))
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (l *AuditLog) pathFor(ts time.Time) string {
	return filepath.Join(l.dir, auditFilePrefix+ts.UTC().Format("2006-01-02")+".jsonl")
}

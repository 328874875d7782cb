package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tollgate/policy-gateway/internal/utils"
)

// auditLog appends CallLogEntry records as JSONL. Every entry is written as a
// single line under the mutex, so entries are never interleaved and their
// file order is a total order of completions.
//
// Subscribers receive a copy of each entry on a buffered channel. Slow
// subscribers are dropped rather than allowed to block the append path.
type auditLog struct {
	path string

	mu          sync.Mutex
	subscribers map[chan CallLogEntry]struct{}
}

func newAuditLog(path string) (*auditLog, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.Create(path)
			if err != nil {
				return nil, fmt.Errorf("failed to create audit log: %w", err)
			}
			_ = f.Close()
		}
	}

	return &auditLog{
		path:        path,
		subscribers: make(map[chan CallLogEntry]struct{}),
	}, nil
}

// append writes one entry atomically and fans it out to subscribers.
func (a *auditLog) append(entry CallLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for ch := range a.subscribers {
		select {
		case ch <- entry:
		default:
			// Subscriber fell behind; drop it so the audit path never blocks.
			delete(a.subscribers, ch)
			close(ch)
			log.Warn().Msg("audit: dropped slow subscriber")
		}
	}

	if a.path == "" {
		return nil
	}

	// No HTML escaping: reason strings may carry prompt fragments and must
	// round-trip byte for byte for downstream consumers.
	data, err := utils.MarshalNoEscape(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// subscribe registers a live consumer of the audit stream.
func (a *auditLog) subscribe(buffer int) chan CallLogEntry {
	ch := make(chan CallLogEntry, buffer)
	a.mu.Lock()
	a.subscribers[ch] = struct{}{}
	a.mu.Unlock()
	return ch
}

// unsubscribe removes a consumer. Safe to call after the subscriber was
// already dropped for falling behind.
func (a *auditLog) unsubscribe(ch chan CallLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.subscribers[ch]; ok {
		delete(a.subscribers, ch)
		close(ch)
	}
}

func (a *auditLog) closeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ch := range a.subscribers {
		delete(a.subscribers, ch)
		close(ch)
	}
}

package mailer

import (
	"context"
	"sync"
)

// Mock records outgoing mail instead of delivering it. Notification sends
// run on background goroutines, so reads go through Messages rather than a
// bare field.
type Mock struct {
	mu   sync.Mutex
	sent []Email

	// Err, when set, is returned from every Send.
	Err error
}

func (m *Mock) Send(ctx context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, e)
	return m.Err
}

// Messages returns a snapshot of everything sent so far.
func (m *Mock) Messages() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Email, len(m.sent))
	copy(out, m.sent)
	return out
}

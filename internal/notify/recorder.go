package notify

import (
	"context"
	"sync"
)

// Edit is one recorded EditNotice call.
type Edit struct {
	Path   string
	Editor string
}

// Recorder implements Notifier by remembering every call. Err, when set,
// is returned from every method after recording.
type Recorder struct {
	mu     sync.Mutex
	Logins []Recipient
	Alerts []Report
	Edits  []Edit
	Err    error
}

func (r *Recorder) LoginNotice(_ context.Context, to Recipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Logins = append(r.Logins, to)
	return r.Err
}

func (r *Recorder) SecurityAlert(_ context.Context, rep Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alerts = append(r.Alerts, rep)
	return r.Err
}

func (r *Recorder) EditNotice(_ context.Context, path, editorName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Edits = append(r.Edits, Edit{Path: path, Editor: editorName})
	return r.Err
}

// EditCount returns the number of recorded edit notices.
func (r *Recorder) EditCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Edits)
}

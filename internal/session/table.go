package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TheRealDuckers/the-hackers/internal/model"
)

// LockTable implements Locker in process memory. State is lost on restart.
type LockTable struct {
	locks map[string]*model.Lock
	mu    sync.Mutex
	now   func() time.Time
}

// NewLockTable creates an empty LockTable.
func NewLockTable() *LockTable {
	return &LockTable{
		locks: make(map[string]*model.Lock),
		now:   time.Now,
	}
}

func (t *LockTable) Claim(ctx context.Context, path string, owner Owner, token string) (*model.Lock, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.locks[path]; ok {
		if existing.OwnerKey != owner.Key {
			held := *existing
			return &held, false, nil
		}
		// Re-opening refreshes the revision the owner is editing.
		existing.VersionToken = token
		existing.OwnerName = owner.Name
		held := *existing
		return &held, true, nil
	}

	lock := &model.Lock{
		Path:         path,
		OwnerKey:     owner.Key,
		OwnerName:    owner.Name,
		VersionToken: token,
		AcquiredAt:   t.now().UTC(),
	}
	t.locks[path] = lock
	held := *lock
	return &held, true, nil
}

func (t *LockTable) Holder(ctx context.Context, path string) (*model.Lock, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.locks[path]
	if !ok {
		return nil, nil
	}
	held := *existing
	return &held, nil
}

func (t *LockTable) Release(ctx context.Context, path, ownerKey string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.locks[path]
	if !ok || existing.OwnerKey != ownerKey {
		return ErrNotHeld
	}
	delete(t.locks, path)
	return nil
}

func (t *LockTable) List(ctx context.Context) ([]model.Lock, error) {
	t.mu.Lock()
	out := make([]model.Lock, 0, len(t.locks))
	for _, l := range t.locks {
		out = append(out, *l)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

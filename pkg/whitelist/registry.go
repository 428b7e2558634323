package whitelist

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cbodonnell/starminers/pkg/log"
)

// Registry mirrors the persisted whitelists in memory.
// Readers always see a complete snapshot from before or after a mutation.
type Registry struct {
	store Store
	// writeLock serializes mutations so persistence and the published snapshot stay in step
	writeLock sync.Mutex
	current   atomic.Pointer[Snapshot]
}

func NewRegistry(store Store) *Registry {
	r := &Registry{store: store}
	r.current.Store(newSnapshot(nil, nil))
	return r
}

// Load replaces the in-memory whitelists with the persisted ones.
func (r *Registry) Load(ctx context.Context) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	scouts, masters, err := r.store.LoadWhitelists(ctx)
	if err != nil {
		return fmt.Errorf("failed to load whitelists: %w", err)
	}
	r.current.Store(newSnapshot(scouts, masters))
	log.Info("Loaded %d scout and %d master credentials", len(scouts), len(masters))
	return nil
}

// Snapshot returns the current whitelists.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// SeedMasters persists and publishes the given master credentials.
// Blank entries are skipped.
func (r *Registry) SeedMasters(ctx context.Context, passwords []string) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	seeded := make([]string, 0, len(passwords))
	for _, pw := range passwords {
		pw = strings.TrimSpace(pw)
		if pw == "" {
			continue
		}
		if err := r.store.AddMaster(ctx, pw); err != nil {
			return fmt.Errorf("failed to seed master credential: %w", err)
		}
		seeded = append(seeded, pw)
	}
	r.current.Store(r.current.Load().with("", "", seeded))
	return nil
}

// AddScout whitelists a scout credential. Adding an existing scout succeeds.
func (r *Registry) AddScout(ctx context.Context, password string) error {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	if err := r.store.AddScout(ctx, password); err != nil {
		return fmt.Errorf("failed to add scout: %w", err)
	}
	r.current.Store(r.current.Load().with(password, "", nil))
	return nil
}

// RemoveScout removes a scout credential and every sighting it owns.
// It returns false, and changes nothing, when password is not a scout.
func (r *Registry) RemoveScout(ctx context.Context, password string) (bool, error) {
	r.writeLock.Lock()
	defer r.writeLock.Unlock()

	if !r.current.Load().IsScout(password) {
		return false, nil
	}
	removed, err := r.store.RemoveScout(ctx, password)
	if err != nil {
		return false, fmt.Errorf("failed to remove scout: %w", err)
	}
	r.current.Store(r.current.Load().with("", password, nil))
	log.Debug("Removed scout credential and %d sightings", removed)
	return true, nil
}

package whitelist

import (
	"context"
	"sort"
)

// Store persists the scout and master whitelists.
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadWhitelists returns every persisted scout and master credential.
	LoadWhitelists(ctx context.Context) (scouts []string, masters []string, err error)
	// AddScout persists a scout credential. Adding an existing credential is a no-op.
	AddScout(ctx context.Context, password string) error
	// AddMaster persists a master credential. Adding an existing credential is a no-op.
	AddMaster(ctx context.Context, password string) error
	// RemoveScout deletes every sighting owned by password and then the
	// scout credential itself, atomically. It returns the number of sightings removed.
	RemoveScout(ctx context.Context, password string) (int64, error)
}

// Snapshot is an immutable view of both whitelists at one point in time.
type Snapshot struct {
	scouts  map[string]struct{}
	masters map[string]struct{}
}

func newSnapshot(scouts, masters []string) *Snapshot {
	s := &Snapshot{
		scouts:  make(map[string]struct{}, len(scouts)),
		masters: make(map[string]struct{}, len(masters)),
	}
	for _, pw := range scouts {
		s.scouts[pw] = struct{}{}
	}
	for _, pw := range masters {
		s.masters[pw] = struct{}{}
	}
	return s
}

// IsScout reports whether password is on the scout whitelist.
func (s *Snapshot) IsScout(password string) bool {
	_, ok := s.scouts[password]
	return ok
}

// IsMaster reports whether password is on the master whitelist.
func (s *Snapshot) IsMaster(password string) bool {
	_, ok := s.masters[password]
	return ok
}

// Scouts returns the scout credentials that are not also masters, sorted.
func (s *Snapshot) Scouts() []string {
	scouts := make([]string, 0, len(s.scouts))
	for pw := range s.scouts {
		if s.IsMaster(pw) {
			continue
		}
		scouts = append(scouts, pw)
	}
	sort.Strings(scouts)
	return scouts
}

// with returns a copy of the snapshot with the given scout changes applied.
func (s *Snapshot) with(addScout, removeScout string, addMasters []string) *Snapshot {
	next := &Snapshot{
		scouts:  make(map[string]struct{}, len(s.scouts)+1),
		masters: make(map[string]struct{}, len(s.masters)+len(addMasters)),
	}
	for pw := range s.scouts {
		next.scouts[pw] = struct{}{}
	}
	for pw := range s.masters {
		next.masters[pw] = struct{}{}
	}
	if addScout != "" {
		next.scouts[addScout] = struct{}{}
	}
	if removeScout != "" {
		delete(next.scouts, removeScout)
	}
	for _, pw := range addMasters {
		next.masters[pw] = struct{}{}
	}
	return next
}

package repositories

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/cbodonnell/starminers/pkg/stars"
	"github.com/cbodonnell/starminers/pkg/whitelist"
)

//go:embed migrations
var migrationsFS embed.FS

type Repository interface {
	whitelist.Store
	Close(ctx context.Context) error
	// MergeSighting applies one report entry for owner: it either narrows the
	// newest matching stored sighting or inserts a new one, in one transaction.
	MergeSighting(ctx context.Context, owner string, sighting stars.Sighting) (stars.MergeOutcome, error)
	// ListOwnSightings returns owner's sightings with lowest < maxTime < highest, by maxTime.
	ListOwnSightings(ctx context.Context, owner string, lowest, highest int64) ([]stars.Sighting, error)
	// ListMergedSightings intersects every owner's window per location and world,
	// over sightings with lowest < maxTime < highest, by maxTime.
	ListMergedSightings(ctx context.Context, lowest, highest int64) ([]stars.Sighting, error)
	// ListAllSightings returns every sighting with its owner, with lowest < maxTime < highest, by world.
	ListAllSightings(ctx context.Context, lowest, highest int64) ([]stars.OwnedSighting, error)
}

// readMigrations returns the embedded migration scripts for dialect in file name order.
func readMigrations(dialect string) ([]string, error) {
	dir := path.Join("migrations", dialect)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var scripts []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		migrationPath := path.Join(dir, entry.Name())
		migration, err := fs.ReadFile(migrationsFS, migrationPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", migrationPath, err)
		}
		scripts = append(scripts, string(migration))
	}
	return scripts, nil
}

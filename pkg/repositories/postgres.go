package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/cbodonnell/starminers/pkg/log"
	"github.com/cbodonnell/starminers/pkg/stars"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Repository = &PostgresRepository{}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to the database at connStr and applies the
// embedded migrations. The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var username string
	var database string
	if err := pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to query database: %w", err)
	}
	log.Info("Connected to %s as %s", database, username)

	migrations, err := readMigrations("postgres")
	if err != nil {
		pool.Close()
		return nil, err
	}
	for i, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to execute migration %d: %w", i+1, err)
		}
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) MergeSighting(ctx context.Context, owner string, sighting stars.Sighting) (stars.MergeOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize merges for the same owner across every process sharing the database.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1));`, owner); err != nil {
		return 0, fmt.Errorf("failed to lock owner: %w", err)
	}

	q := `
	SELECT id, min_time, max_time FROM sightings
	WHERE world = $1 AND owner = $2 AND max_time > $3
	ORDER BY id DESC
	LIMIT 1
	FOR UPDATE;
	`
	var id int64
	var stored stars.Window
	err = tx.QueryRow(ctx, q, sighting.World, owner, stars.MatchFloor(sighting.MinTime)).Scan(&id, &stored.Min, &stored.Max)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to query matching sighting: %w", err)
	}

	var outcome stars.MergeOutcome
	if errors.Is(err, pgx.ErrNoRows) {
		q := `
		INSERT INTO sightings (location, world, min_time, max_time, owner)
		VALUES ($1, $2, $3, $4, $5);
		`
		if _, err := tx.Exec(ctx, q, sighting.Location, sighting.World, sighting.MinTime, sighting.MaxTime, owner); err != nil {
			return 0, fmt.Errorf("failed to insert sighting: %w", err)
		}
		outcome = stars.MergeInserted
	} else {
		var merged stars.Window
		merged, outcome = stars.Resolve(&stored, sighting.Window())
		if outcome == stars.MergeNarrowed {
			q := `UPDATE sightings SET min_time = $1, max_time = $2 WHERE id = $3;`
			if _, err := tx.Exec(ctx, q, merged.Min, merged.Max, id); err != nil {
				return 0, fmt.Errorf("failed to update sighting: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return outcome, nil
}

func (r *PostgresRepository) ListOwnSightings(ctx context.Context, owner string, lowest, highest int64) ([]stars.Sighting, error) {
	q := `
	SELECT location, world, min_time, max_time FROM sightings
	WHERE owner = $1 AND max_time > $2 AND max_time < $3
	ORDER BY max_time, id;
	`
	rows, err := r.pool.Query(ctx, q, owner, lowest, highest)
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	defer rows.Close()
	return scanSightings(rows)
}

func (r *PostgresRepository) ListMergedSightings(ctx context.Context, lowest, highest int64) ([]stars.Sighting, error) {
	q := `
	SELECT location, world, MAX(min_time), MIN(max_time) FROM sightings
	WHERE max_time > $1 AND max_time < $2
	GROUP BY location, world
	ORDER BY MIN(max_time), location, world;
	`
	rows, err := r.pool.Query(ctx, q, lowest, highest)
	if err != nil {
		return nil, fmt.Errorf("failed to query merged sightings: %w", err)
	}
	defer rows.Close()
	return scanSightings(rows)
}

func (r *PostgresRepository) ListAllSightings(ctx context.Context, lowest, highest int64) ([]stars.OwnedSighting, error) {
	q := `
	SELECT location, world, min_time, max_time, owner FROM sightings
	WHERE max_time > $1 AND max_time < $2
	ORDER BY world, id;
	`
	rows, err := r.pool.Query(ctx, q, lowest, highest)
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	defer rows.Close()

	sightings := []stars.OwnedSighting{}
	for rows.Next() {
		var s stars.OwnedSighting
		if err := rows.Scan(&s.Location, &s.World, &s.MinTime, &s.MaxTime, &s.Owner); err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		sightings = append(sightings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sightings: %w", err)
	}
	return sightings, nil
}

func (r *PostgresRepository) LoadWhitelists(ctx context.Context) ([]string, []string, error) {
	scouts, err := r.listPasswords(ctx, `SELECT password FROM scout_whitelist;`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load scout whitelist: %w", err)
	}
	masters, err := r.listPasswords(ctx, `SELECT password FROM master_whitelist;`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load master whitelist: %w", err)
	}
	return scouts, masters, nil
}

func (r *PostgresRepository) listPasswords(ctx context.Context, q string) ([]string, error) {
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *PostgresRepository) AddScout(ctx context.Context, password string) error {
	q := `INSERT INTO scout_whitelist (password) VALUES ($1) ON CONFLICT (password) DO NOTHING;`
	if _, err := r.pool.Exec(ctx, q, password); err != nil {
		return fmt.Errorf("failed to insert scout: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddMaster(ctx context.Context, password string) error {
	q := `INSERT INTO master_whitelist (password) VALUES ($1) ON CONFLICT (password) DO NOTHING;`
	if _, err := r.pool.Exec(ctx, q, password); err != nil {
		return fmt.Errorf("failed to insert master: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RemoveScout(ctx context.Context, password string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1));`, password); err != nil {
		return 0, fmt.Errorf("failed to lock owner: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM sightings WHERE owner = $1;`, password)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sightings: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM scout_whitelist WHERE password = $1;`, password); err != nil {
		return 0, fmt.Errorf("failed to delete scout: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

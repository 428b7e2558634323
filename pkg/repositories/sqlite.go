package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cbodonnell/starminers/pkg/stars"
	_ "github.com/mattn/go-sqlite3"
)

var _ Repository = &SQLiteRepository{}

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens the database at path (":memory:" is allowed) and
// applies the embedded migrations. The pool is limited to one connection so
// that every transaction runs alone.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	migrations, err := readMigrations("sqlite")
	if err != nil {
		db.Close()
		return nil, err
	}
	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute migration %d: %w", i+1, err)
		}
	}

	return newSQLiteRepositoryFromDB(db), nil
}

func newSQLiteRepositoryFromDB(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db: db,
	}
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) MergeSighting(ctx context.Context, owner string, sighting stars.Sighting) (stars.MergeOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := `
	SELECT id, min_time, max_time FROM sightings
	WHERE world = ? AND owner = ? AND max_time > ?
	ORDER BY id DESC
	LIMIT 1;
	`
	var id int64
	var stored stars.Window
	err = tx.QueryRowContext(ctx, q, sighting.World, owner, stars.MatchFloor(sighting.MinTime)).Scan(&id, &stored.Min, &stored.Max)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to query matching sighting: %w", err)
	}

	var outcome stars.MergeOutcome
	if errors.Is(err, sql.ErrNoRows) {
		q := `
		INSERT INTO sightings (location, world, min_time, max_time, owner)
		VALUES (?, ?, ?, ?, ?);
		`
		if _, err := tx.ExecContext(ctx, q, sighting.Location, sighting.World, sighting.MinTime, sighting.MaxTime, owner); err != nil {
			return 0, fmt.Errorf("failed to insert sighting: %w", err)
		}
		outcome = stars.MergeInserted
	} else {
		var merged stars.Window
		merged, outcome = stars.Resolve(&stored, sighting.Window())
		if outcome == stars.MergeNarrowed {
			q := `UPDATE sightings SET min_time = ?, max_time = ? WHERE id = ?;`
			if _, err := tx.ExecContext(ctx, q, merged.Min, merged.Max, id); err != nil {
				return 0, fmt.Errorf("failed to update sighting: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return outcome, nil
}

func (r *SQLiteRepository) ListOwnSightings(ctx context.Context, owner string, lowest, highest int64) ([]stars.Sighting, error) {
	q := `
	SELECT location, world, min_time, max_time FROM sightings
	WHERE owner = ? AND max_time > ? AND max_time < ?
	ORDER BY max_time, id;
	`
	rows, err := r.db.QueryContext(ctx, q, owner, lowest, highest)
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	defer rows.Close()
	return scanSightings(rows)
}

func (r *SQLiteRepository) ListMergedSightings(ctx context.Context, lowest, highest int64) ([]stars.Sighting, error) {
	q := `
	SELECT location, world, MAX(min_time), MIN(max_time) FROM sightings
	WHERE max_time > ? AND max_time < ?
	GROUP BY location, world
	ORDER BY MIN(max_time), location, world;
	`
	rows, err := r.db.QueryContext(ctx, q, lowest, highest)
	if err != nil {
		return nil, fmt.Errorf("failed to query merged sightings: %w", err)
	}
	defer rows.Close()
	return scanSightings(rows)
}

func (r *SQLiteRepository) ListAllSightings(ctx context.Context, lowest, highest int64) ([]stars.OwnedSighting, error) {
	q := `
	SELECT location, world, min_time, max_time, owner FROM sightings
	WHERE max_time > ? AND max_time < ?
	ORDER BY world, id;
	`
	rows, err := r.db.QueryContext(ctx, q, lowest, highest)
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

func (r *SQLiteRepository) LoadWhitelists(ctx context.Context) ([]string, []string, error) {
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

func (r *SQLiteRepository) listPasswords(ctx context.Context, q string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passwords []string
	for rows.Next() {
		var pw string
		if err := rows.Scan(&pw); err != nil {
			return nil, err
		}
		passwords = append(passwords, pw)
	}
	return passwords, rows.Err()
}

func (r *SQLiteRepository) AddScout(ctx context.Context, password string) error {
	if _, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO scout_whitelist (password) VALUES (?);`, password); err != nil {
		return fmt.Errorf("failed to insert scout: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AddMaster(ctx context.Context, password string) error {
	if _, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO master_whitelist (password) VALUES (?);`, password); err != nil {
		return fmt.Errorf("failed to insert master: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveScout(ctx context.Context, password string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sightings WHERE owner = ?;`, password)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sightings: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sightings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scout_whitelist WHERE password = ?;`, password); err != nil {
		return 0, fmt.Errorf("failed to delete scout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return removed, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSightings(rows rowScanner) ([]stars.Sighting, error) {
	sightings := []stars.Sighting{}
	for rows.Next() {
		var s stars.Sighting
		if err := rows.Scan(&s.Location, &s.World, &s.MinTime, &s.MaxTime); err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		sightings = append(sightings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sightings: %w", err)
	}
	return sightings, nil
}

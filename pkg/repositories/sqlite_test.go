package repositories

import (
	"context"
	"testing"

	"github.com/cbodonnell/starminers/pkg/stars"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	frozenUnixTime int64 = 1635422400
	testOwner            = "testpw"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	r, err := NewSQLiteRepository(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(ctx) })
	return r
}

func allRows(t *testing.T, r *SQLiteRepository) []stars.OwnedSighting {
	t.Helper()
	rows, err := r.ListAllSightings(context.Background(), -1<<62, 1<<62)
	require.NoError(t, err)
	return rows
}

func TestSQLiteRepository_MergeSighting(t *testing.T) {
	base := stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime + 500, MaxTime: frozenUnixTime + 1000}

	tests := []struct {
		name        string
		existing    []stars.Sighting
		incoming    stars.Sighting
		wantOutcome stars.MergeOutcome
		want        []stars.Sighting
	}{
		{
			name:        "insert when nothing stored",
			incoming:    base,
			wantOutcome: stars.MergeInserted,
			want:        []stars.Sighting{base},
		},
		{
			name:        "same report twice is unchanged",
			existing:    []stars.Sighting{base},
			incoming:    base,
			wantOutcome: stars.MergeUnchanged,
			want:        []stars.Sighting{base},
		},
		{
			name:        "overlapping report narrows",
			existing:    []stars.Sighting{base},
			incoming:    stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime + 600, MaxTime: frozenUnixTime + 1100},
			wantOutcome: stars.MergeNarrowed,
			want:        []stars.Sighting{{Location: 10, World: 302, MinTime: frozenUnixTime + 600, MaxTime: frozenUnixTime + 1000}},
		},
		{
			name:        "recent but disjoint report is dropped",
			existing:    []stars.Sighting{{Location: 10, World: 302, MinTime: frozenUnixTime - 100, MaxTime: frozenUnixTime}},
			incoming:    stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime + 599, MaxTime: frozenUnixTime + 1200},
			wantOutcome: stars.MergeContradiction,
			want:        []stars.Sighting{{Location: 10, World: 302, MinTime: frozenUnixTime - 100, MaxTime: frozenUnixTime}},
		},
		{
			name:        "report ten minutes after stored end starts a new sighting",
			existing:    []stars.Sighting{{Location: 10, World: 302, MinTime: frozenUnixTime - 100, MaxTime: frozenUnixTime}},
			incoming:    stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime + 600, MaxTime: frozenUnixTime + 1200},
			wantOutcome: stars.MergeInserted,
			want: []stars.Sighting{
				{Location: 10, World: 302, MinTime: frozenUnixTime - 100, MaxTime: frozenUnixTime},
				{Location: 10, World: 302, MinTime: frozenUnixTime + 600, MaxTime: frozenUnixTime + 1200},
			},
		},
		{
			name:        "other world is independent",
			existing:    []stars.Sighting{base},
			incoming:    stars.Sighting{Location: 10, World: 303, MinTime: frozenUnixTime + 600, MaxTime: frozenUnixTime + 1100},
			wantOutcome: stars.MergeInserted,
			want: []stars.Sighting{
				base,
				{Location: 10, World: 303, MinTime: frozenUnixTime + 600, MaxTime: frozenUnixTime + 1100},
			},
		},
		{
			name: "newest matching sighting wins",
			existing: []stars.Sighting{
				{Location: 10, World: 302, MinTime: frozenUnixTime + 400, MaxTime: frozenUnixTime + 1000},
				{Location: 10, World: 302, MinTime: frozenUnixTime + 700, MaxTime: frozenUnixTime + 1300},
			},
			incoming:    stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime + 800, MaxTime: frozenUnixTime + 1200},
			wantOutcome: stars.MergeNarrowed,
			want: []stars.Sighting{
				{Location: 10, World: 302, MinTime: frozenUnixTime + 400, MaxTime: frozenUnixTime + 1000},
				{Location: 10, World: 302, MinTime: frozenUnixTime + 800, MaxTime: frozenUnixTime + 1200},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			r := newTestRepository(t)
			for _, s := range tt.existing {
				require.NoError(t, insertSighting(ctx, r, testOwner, s))
			}

			outcome, err := r.MergeSighting(ctx, testOwner, tt.incoming)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, outcome)

			rows := allRows(t, r)
			got := make([]stars.Sighting, 0, len(rows))
			for _, row := range rows {
				assert.Equal(t, testOwner, row.Owner)
				got = append(got, row.Sighting)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSQLiteRepository_MergeSighting_ownersAreIndependent(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	s := stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime + 500, MaxTime: frozenUnixTime + 1000}

	require.NoError(t, insertSighting(ctx, r, "testpw", s))
	outcome, err := r.MergeSighting(ctx, "testpwtwo", stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime + 600, MaxTime: frozenUnixTime + 1100})
	require.NoError(t, err)
	assert.Equal(t, stars.MergeInserted, outcome)
	assert.Len(t, allRows(t, r), 2)
}

func TestSQLiteRepository_ListOwnSightings(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	lowest, highest := stars.ViewRange(frozenUnixTime)

	old := stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime - 3700, MaxTime: frozenUnixTime - 3600}
	edge := stars.Sighting{Location: 10, World: 303, MinTime: frozenUnixTime - 3700, MaxTime: frozenUnixTime - 3599}
	later := stars.Sighting{Location: 8, World: 302, MinTime: frozenUnixTime + 100, MaxTime: frozenUnixTime + 1000}
	sooner := stars.Sighting{Location: 8, World: 304, MinTime: frozenUnixTime - 100, MaxTime: frozenUnixTime + 100}
	require.NoError(t, insertSighting(ctx, r, "global", old))
	require.NoError(t, insertSighting(ctx, r, "global", edge))
	require.NoError(t, insertSighting(ctx, r, "global", later))
	require.NoError(t, insertSighting(ctx, r, "global", sooner))
	require.NoError(t, insertSighting(ctx, r, "other", sooner))

	got, err := r.ListOwnSightings(ctx, "global", lowest, highest)
	require.NoError(t, err)
	assert.Equal(t, []stars.Sighting{edge, sooner, later}, got)

	got, err = r.ListOwnSightings(ctx, "nobody", lowest, highest)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestSQLiteRepository_ListMergedSightings(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	lowest, highest := stars.ViewRange(frozenUnixTime)

	require.NoError(t, insertSighting(ctx, r, "testpw", stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime - 100, MaxTime: frozenUnixTime + 100}))
	require.NoError(t, insertSighting(ctx, r, "masterpw", stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime, MaxTime: frozenUnixTime + 200}))
	require.NoError(t, insertSighting(ctx, r, "testpw", stars.Sighting{Location: 10, World: 304, MinTime: frozenUnixTime - 300, MaxTime: frozenUnixTime + 50}))
	require.NoError(t, insertSighting(ctx, r, "testpw", stars.Sighting{Location: 1, World: 305, MinTime: frozenUnixTime + 8900, MaxTime: frozenUnixTime + 9000}))

	got, err := r.ListMergedSightings(ctx, lowest, highest)
	require.NoError(t, err)
	assert.Equal(t, []stars.Sighting{
		{Location: 10, World: 304, MinTime: frozenUnixTime - 300, MaxTime: frozenUnixTime + 50},
		{Location: 10, World: 302, MinTime: frozenUnixTime, MaxTime: frozenUnixTime + 100},
	}, got)
}

func TestSQLiteRepository_ListAllSightings(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	lowest, highest := stars.ViewRange(frozenUnixTime)

	a := stars.Sighting{Location: 10, World: 304, MinTime: frozenUnixTime - 100, MaxTime: frozenUnixTime + 100}
	b := stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime - 100, MaxTime: frozenUnixTime + 100}
	require.NoError(t, insertSighting(ctx, r, "testpw", a))
	require.NoError(t, insertSighting(ctx, r, "masterpw", b))

	got, err := r.ListAllSightings(ctx, lowest, highest)
	require.NoError(t, err)
	assert.Equal(t, []stars.OwnedSighting{
		{Sighting: b, Owner: "masterpw"},
		{Sighting: a, Owner: "testpw"},
	}, got)
}

func TestSQLiteRepository_whitelists(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)

	require.NoError(t, r.AddScout(ctx, "testpw"))
	require.NoError(t, r.AddScout(ctx, "testpw"))
	require.NoError(t, r.AddScout(ctx, "testpwtwo"))
	require.NoError(t, r.AddMaster(ctx, "masterpw"))
	require.NoError(t, r.AddMaster(ctx, "masterpw"))

	scouts, masters, err := r.LoadWhitelists(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"testpw", "testpwtwo"}, scouts)
	assert.Equal(t, []string{"masterpw"}, masters)
}

func TestSQLiteRepository_RemoveScout(t *testing.T) {
	ctx := context.Background()
	r := newTestRepository(t)
	s := stars.Sighting{Location: 10, World: 302, MinTime: frozenUnixTime - 100, MaxTime: frozenUnixTime + 100}

	require.NoError(t, r.AddScout(ctx, "testpw"))
	require.NoError(t, r.AddScout(ctx, "testpwtwo"))
	require.NoError(t, insertSighting(ctx, r, "testpwtwo", s))
	require.NoError(t, insertSighting(ctx, r, "testpwtwo", s))
	require.NoError(t, insertSighting(ctx, r, "testpw", s))

	removed, err := r.RemoveScout(ctx, "testpwtwo")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	rows := allRows(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, "testpw", rows[0].Owner)

	scouts, _, err := r.LoadWhitelists(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"testpw"}, scouts)
}

// insertSighting stores a sighting verbatim, bypassing the merge.
func insertSighting(ctx context.Context, r *SQLiteRepository, owner string, sighting stars.Sighting) error {
	q := `
	INSERT INTO sightings (location, world, min_time, max_time, owner)
	VALUES (?, ?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, sighting.Location, sighting.World, sighting.MinTime, sighting.MaxTime, owner)
	return err
}

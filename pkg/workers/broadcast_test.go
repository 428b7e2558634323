package workers

import (
	"context"
	"testing"
	"time"

	"github.com/cbodonnell/starminers/pkg/feed"
	"github.com/cbodonnell/starminers/pkg/queue"
	"github.com/cbodonnell/starminers/pkg/scouting"
	"github.com/cbodonnell/starminers/pkg/stars"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSnapshotReader struct {
	mock.Mock
}

func (m *mockSnapshotReader) Snapshot(ctx context.Context) ([]stars.Sighting, error) {
	args := m.Called(ctx)
	return args.Get(0).([]stars.Sighting), args.Error(1)
}

func TestBroadcastWorker_publishesOnEvents(t *testing.T) {
	sightings := []stars.Sighting{{Location: 10, World: 302, MinTime: 100, MaxTime: 1000}}
	reader := &mockSnapshotReader{}
	reader.On("Snapshot", mock.Anything).Return(sightings, nil)

	events := queue.NewInMemoryQueue[scouting.SightingEvent](4)
	hub := feed.NewHub()
	sub, err := hub.Subscribe()
	require.NoError(t, err)

	w := NewBroadcastWorker(NewBroadcastWorkerOptions{
		Reader:     reader,
		EventQueue: events,
		Hub:        hub,
		Interval:   5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	require.NoError(t, events.Enqueue(scouting.SightingEvent{Reason: "submit", Changed: 1}))

	select {
	case update := <-sub.C:
		assert.Equal(t, sightings, update.Sightings)
	case <-time.After(time.Second):
		t.Fatal("no update published")
	}
	assert.Eventually(t, func() bool { return events.Size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBroadcastWorker_quietWithoutEvents(t *testing.T) {
	reader := &mockSnapshotReader{}
	hub := feed.NewHub()
	sub, err := hub.Subscribe()
	require.NoError(t, err)

	w := NewBroadcastWorker(NewBroadcastWorkerOptions{
		Reader:     reader,
		EventQueue: queue.NewInMemoryQueue[scouting.SightingEvent](4),
		Hub:        hub,
		Interval:   5 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	w.Start(ctx)

	assert.Len(t, sub.C, 0)
	reader.AssertNotCalled(t, "Snapshot", mock.Anything)
}

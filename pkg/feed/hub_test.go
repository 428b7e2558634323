package feed

import (
	"testing"

	"github.com/cbodonnell/starminers/pkg/stars"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesSubscribers(t *testing.T) {
	h := NewHub()
	a, err := h.Subscribe()
	require.NoError(t, err)
	b, err := h.Subscribe()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, h.Size())

	update := Update{Sightings: []stars.Sighting{{Location: 10, World: 302, MinTime: 1, MaxTime: 200}}, At: 1}
	h.Publish(update)

	assert.Equal(t, update, <-a.C)
	assert.Equal(t, update, <-b.C)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub()
	sub, err := h.Subscribe()
	require.NoError(t, err)

	h.Unsubscribe(sub.ID)
	h.Unsubscribe(sub.ID)
	assert.Equal(t, 0, h.Size())

	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestHub_PublishSkipsFullSubscriber(t *testing.T) {
	h := NewHub()
	sub, err := h.Subscribe()
	require.NoError(t, err)

	for i := 0; i < SubscriberBufferSize+3; i++ {
		h.Publish(Update{At: int64(i)})
	}

	assert.Len(t, sub.C, SubscriberBufferSize)
	assert.Equal(t, int64(0), (<-sub.C).At)
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	a, err := h.Subscribe()
	require.NoError(t, err)
	b, err := h.Subscribe()
	require.NoError(t, err)

	h.Close()
	assert.Equal(t, 0, h.Size())
	_, ok := <-a.C
	assert.False(t, ok)
	_, ok = <-b.C
	assert.False(t, ok)
}

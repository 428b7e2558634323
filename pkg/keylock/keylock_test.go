package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLock_serializesSameKey(t *testing.T) {
	k := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("testpw")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.Size())
}

func TestKeyLock_differentKeysDoNotBlock(t *testing.T) {
	k := New()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	assert.Equal(t, 1, k.Size())
}

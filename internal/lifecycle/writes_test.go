package lifecycle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritesRefHoldRelease(t *testing.T) {
	t.Parallel()

	r := NewWritesRef()
	require.True(t, r.TryHold())
	require.True(t, r.TryHold())
	r.Release()
	r.Release()

	r.Close()
	assert.False(t, r.TryHold(), "TryHold must fail after Close")
}

func TestWritesRefCloseWaitsForHolders(t *testing.T) {
	t.Parallel()

	r := NewWritesRef()
	require.True(t, r.TryHold())

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a hold was outstanding")
	case <-time.After(20 * time.Millisecond):
	}

	r.Release()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after last Release")
	}
}

func TestWritesRefCloseIdempotent(t *testing.T) {
	t.Parallel()

	r := NewWritesRef()
	r.Close()
	r.Close()
	assert.False(t, r.TryHold())
}

func TestWritesRefConcurrent(t *testing.T) {
	t.Parallel()

	r := NewWritesRef()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if r.TryHold() {
					r.Release()
				}
			}
		}()
	}
	wg.Wait()
	r.Close()
}

package lock

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire_SecondCallerIsRefused(t *testing.T) {
	l := New()

	require.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	assert.False(t, l.TryAcquire())

	l.Release()
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
	l.Release()
}

func TestRelease_Unheld(t *testing.T) {
	l := New()
	l.Release()
	assert.True(t, l.TryAcquire())
}

func TestTryAcquire_ConcurrentCallersGetOneWinner(t *testing.T) {
	l := New()

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestMachineMutex_ExcludesOtherLocks(t *testing.T) {
	name := fmt.Sprintf("b2backup-test-%d", os.Getpid())
	first := New(WithMachineMutex(name, clock.WallClock))
	second := New(WithMachineMutex(name, clock.WallClock))

	require.True(t, first.TryAcquire())
	assert.False(t, second.TryAcquire())
	assert.False(t, second.Held(), "a refused acquisition must not leave the lock marked held")

	first.Release()
	require.True(t, second.TryAcquire())
	second.Release()
}

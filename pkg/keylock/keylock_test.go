package keylock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Cornucopia/pkg/model"
)

func TestAcquire_SameKeyConflicts(t *testing.T) {
	l := New(20 * time.Millisecond)

	release, err := l.Acquire(context.Background(), "daily/600000.SH/2024-01-02")
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), "daily/600000.SH/2024-01-02")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConcurrencyConflict)
	assert.True(t, model.Retryable(err))

	release()
	release() // 重复释放无副作用

	release2, err := l.Acquire(context.Background(), "daily/600000.SH/2024-01-02")
	require.NoError(t, err)
	release2()
	assert.Equal(t, 0, l.Len())
}

func TestAcquire_DifferentKeysIndependent(t *testing.T) {
	l := New(0)

	r1, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	r2, err := l.Acquire(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	r1()
	r2()
	assert.Equal(t, 0, l.Len())
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	l := New(time.Second)

	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		release()
	}()

	r, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	r()
}

func TestAcquire_Serializes(t *testing.T) {
	l := New(5 * time.Second)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "k")
			if err != nil {
				return
			}
			defer release()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, l.Len())
}

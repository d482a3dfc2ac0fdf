package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_SlidingWindow(t *testing.T) {
	l := New(3, 10*time.Second, 100)
	t0 := time.Now()
	at := func(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

	assert.True(t, l.AllowAt(1, at(0)))
	assert.True(t, l.AllowAt(1, at(1)))
	assert.True(t, l.AllowAt(1, at(2)))
	assert.False(t, l.AllowAt(1, at(3)), "fourth attempt inside the window")
	assert.True(t, l.AllowAt(1, at(11)), "first attempt has left the window")
	assert.False(t, l.AllowAt(1, at(11)))
}

func TestLimiter_RejectedAttemptsDoNotCount(t *testing.T) {
	l := New(1, 10*time.Second, 100)
	t0 := time.Now()

	assert.True(t, l.AllowAt(1, t0))
	for i := 1; i <= 9; i++ {
		assert.False(t, l.AllowAt(1, t0.Add(time.Duration(i)*time.Second)))
	}
	assert.True(t, l.AllowAt(1, t0.Add(11*time.Second)))
}

func TestLimiter_UsersAreIndependent(t *testing.T) {
	l := New(1, time.Minute, 100)
	now := time.Now()

	assert.True(t, l.AllowAt(1, now))
	assert.False(t, l.AllowAt(1, now))
	assert.True(t, l.AllowAt(2, now))
}

func TestLimiter_ConcurrentSameUser(t *testing.T) {
	l := New(3, time.Minute, 100)
	now := time.Now()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.AllowAt(7, now) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), admitted.Load())
}

package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCancel_PropagatesToContext(t *testing.T) {
	h := New(context.Background())
	assert.False(t, h.Cancelled())

	h.Cancel()
	assert.True(t, h.Cancelled())

	select {
	case <-h.Context().Done():
	default:
		t.Fatal("context should be done after Cancel")
	}
}

func TestPauseResume_BlocksAndReleases(t *testing.T) {
	h := New(context.Background())
	h.Pause()

	released := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.WaitIfPaused()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("WaitIfPaused returned before Resume")
	case <-time.After(50 * time.Millisecond):
	}

	h.Resume()
	wg.Wait()
}

func TestCancelDuringPause_Unblocks(t *testing.T) {
	h := New(context.Background())
	h.Pause()

	done := make(chan struct{})
	go func() {
		h.WaitIfPaused()
		close(done)
	}()

	h.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Cancel did not unblock a paused waiter")
	}
}

func TestPaused_ReflectsState(t *testing.T) {
	h := New(context.Background())
	assert.False(t, h.Paused())

	h.Pause()
	assert.True(t, h.Paused())

	h.Resume()
	assert.False(t, h.Paused())
}

func TestWaitIfPaused_NoOpWhenNotPaused(t *testing.T) {
	h := New(context.Background())
	done := make(chan struct{})
	go func() {
		h.WaitIfPaused()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitIfPaused blocked despite no Pause call")
	}
}

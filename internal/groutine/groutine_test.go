package groutine

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoPropagatesName(t *testing.T) {
	done := make(chan string, 1)
	Go(nil, "radio-events", func(ctx context.Context) {
		done <- GetName(ctx)
	})
	assert.Equal(t, "radio-events", <-done)
	assert.Empty(t, GetName(context.Background()))
}

func TestGetGIDDistinct(t *testing.T) {
	mine := GetGID()
	assert.NotZero(t, mine)

	other := make(chan uint64, 1)
	go func() { other <- GetGID() }()
	assert.NotEqual(t, mine, <-other)
}

func TestThreadIDStableWhileLocked(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	first := ThreadID()
	runtime.Gosched()
	assert.Equal(t, first, ThreadID(), "thread id MUST be stable for a locked goroutine")
	assert.NotZero(t, first)
}

func TestGoDoneClosesAfterReturn(t *testing.T) {
	release := make(chan struct{})
	done := Go(context.Background(), "worker", func(ctx context.Context) {
		<-release
	})

	select {
	case <-done:
		t.Fatal("done MUST stay open while fn runs")
	default:
	}

	close(release)
	<-done
}

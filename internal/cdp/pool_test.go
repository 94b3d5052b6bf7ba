package cdp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestWorkerPool_RunsQueuedTasksBeforeStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := newWorkerPool(3, 16)
	var n atomic.Int64
	for i := 0; i < 16; i++ {
		assert.True(t, p.submit(context.Background(), func() { n.Add(1) }))
	}
	p.stop()
	assert.EqualValues(t, 16, n.Load())
}

func TestWorkerPool_RejectsAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := newWorkerPool(1, 1)
	p.stop()
	p.stop()
	assert.False(t, p.submit(context.Background(), func() {}))
}

func TestWorkerPool_SubmitBlocksUntilWorkerFree(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := newWorkerPool(1, 0)
	release := make(chan struct{})
	assert.True(t, p.submit(context.Background(), func() { <-release }))

	accepted := make(chan bool, 1)
	go func() { accepted <- p.submit(context.Background(), func() {}) }()
	select {
	case <-accepted:
		t.Fatal("submit returned while the only worker was busy")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.True(t, <-accepted)
	p.stop()
}

func TestWorkerPool_SubmitGivesUpOnContextOrStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := newWorkerPool(1, 0)
	release := make(chan struct{})
	assert.True(t, p.submit(context.Background(), func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, p.submit(ctx, func() {}))

	blocked := make(chan bool, 1)
	go func() { blocked <- p.submit(context.Background(), func() {}) }()
	time.Sleep(20 * time.Millisecond)
	go p.stop()
	assert.False(t, <-blocked)
	close(release)
}

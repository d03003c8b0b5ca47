package worker_test

import (
	"testing"
	"time"

	"github.com/meetworks/sightline/pkg/worker"
	"github.com/stretchr/testify/assert"
)

func TestWorkerExecutesTasksInOrder(t *testing.T) {
	done := make(chan int, 3)
	w := worker.StartWorker(worker.Config[int]{
		ChannelSize: 3,
		Timeout:     time.Minute,
		OnTimeout:   func() {},
		OnTask:      func(task int) { done <- task },
	})
	defer w.Stop()

	assert.NoError(t, w.Send(1))
	assert.NoError(t, w.Send(2))
	assert.NoError(t, w.Send(3))

	assert.Equal(t, 1, <-done)
	assert.Equal(t, 2, <-done)
	assert.Equal(t, 3, <-done)
}

func TestWorkerRejectsAfterStop(t *testing.T) {
	w := worker.StartWorker(worker.Config[int]{
		ChannelSize: 1,
		Timeout:     time.Minute,
		OnTimeout:   func() {},
		OnTask:      func(int) {},
	})

	w.Stop()
	assert.ErrorIs(t, w.Send(1), worker.ErrWorkerClosed)

	// Stop is idempotent.
	w.Stop()
}

func BenchmarkWorker(b *testing.B) {
	w := worker.StartWorker(worker.Config[struct{}]{
		ChannelSize: 1,
		Timeout:     2 * time.Second,
		OnTimeout:   func() {},
		OnTask:      func(struct{}) {},
	})

	for n := 0; n < b.N; n++ {
		w.Send(struct{}{})
	}

	w.Stop()
}

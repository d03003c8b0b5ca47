package worker

import (
	"errors"
	"sync"
	"time"
)

// Errors that may occur when sending tasks to a worker.
var (
	ErrWorkerClosed  = errors.New("worker is closed")
	ErrWorkerTooBusy = errors.New("worker is already overloaded")
)

// Configuration for the worker.
type Config[T any] struct {
	// The size of the bounded task channel.
	ChannelSize int
	// Timeout after which OnTimeout is called if no task arrived.
	Timeout time.Duration
	// Called once Timeout is reached.
	OnTimeout func()
	// Called upon reception of a task.
	OnTask func(T)
}

// Worker executes tasks sequentially on its own goroutine. The session uses
// one to serialize outbound signaling sends so that slow writes never block
// the event loop.
type Worker[T any] struct {
	channel chan<- T
	mutex   sync.Mutex
	closed  bool
}

// Stop the worker unless already stopped.
func (w *Worker[T]) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.closed {
		close(w.channel)
		w.closed = true
	}
}

// Send a task to the worker. Never blocks: an overloaded worker rejects the
// task with ErrWorkerTooBusy.
func (w *Worker[T]) Send(task T) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return ErrWorkerClosed
	}

	select {
	case w.channel <- task:
		return nil
	default:
		return ErrWorkerTooBusy
	}
}

// Starts a worker that executes incoming tasks in order and calls OnTimeout
// whenever no task has arrived for the configured timeout. The worker stops
// once Stop is called.
func StartWorker[T any](c Config[T]) *Worker[T] {
	incoming := make(chan T, c.ChannelSize)

	go func() {
		for {
			select {
			case task, ok := <-incoming:
				if !ok {
					return
				}
				c.OnTask(task)
			case <-time.After(c.Timeout):
				c.OnTimeout()
			}
		}
	}()

	return &Worker[T]{channel: incoming}
}

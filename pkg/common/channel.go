package common

import "sync/atomic"

// Capacity that is large enough to never realistically block a sender.
const UnboundedChannelSize = 128

// Creates a channel split into a sending and a receiving half, where the
// receiving half may mark the channel as closed without actually closing it.
// Senders observe the closure as a rejected message instead of a panic.
func NewChannel[M any]() (Sender[M], Receiver[M]) {
	channel := make(chan M, UnboundedChannelSize)
	closed := &atomic.Bool{}
	return Sender[M]{channel, closed}, Receiver[M]{channel, closed}
}

type Sender[M any] struct {
	channel        chan<- M
	receiverClosed *atomic.Bool
}

// Sends the message unless the receiver has closed the channel, in which case
// the rejected message is returned to the caller.
func (s *Sender[M]) Send(message M) *M {
	if s.receiverClosed.Load() {
		return &message
	}
	s.channel <- message
	return nil
}

type Receiver[M any] struct {
	Channel        <-chan M
	receiverClosed *atomic.Bool
}

func (r *Receiver[M]) Close() {
	r.receiverClosed.Store(true)
}

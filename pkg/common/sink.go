package common

import (
	"errors"
)

var ErrSinkSealed = errors.New("the sink is sealed")

// A message with its origin attached. Consumers that aggregate events from
// several producers (e.g. the session loop reading from the peer and from the
// sensors) use the sender to tell them apart.
type Message[SenderType comparable, MessageType any] struct {
	Sender  SenderType
	Content MessageType
}

// SinkWithSender is a write handle to a shared message channel that stamps
// every message with a fixed sender. The sender is baked in at construction
// time, so a producer holding the sink cannot impersonate anyone else.
type SinkWithSender[SenderType comparable, MessageType any] struct {
	sender      SenderType
	messageSink chan<- Message[SenderType, MessageType]
	// Closed when this particular sender is cut off. We never close the
	// underlying channel since other senders may still be writing to it.
	sealed chan struct{}
}

func NewSink[S comparable, M any](sender S, messageSink chan<- Message[S, M]) *SinkWithSender[S, M] {
	return &SinkWithSender[S, M]{
		sender:      sender,
		messageSink: messageSink,
		sealed:      make(chan struct{}),
	}
}

// Sends a message to the sink. Blocks if the sink is full.
func (s *SinkWithSender[S, M]) Send(message M) error {
	withSender := Message[S, M]{
		Sender:  s.sender,
		Content: message,
	}

	select {
	case <-s.sealed:
		return ErrSinkSealed
	case s.messageSink <- withSender:
		return nil
	}
}

// Seals the sink: any further Send from this sender fails with ErrSinkSealed.
// Sealing is idempotent and does not affect other senders of the same channel.
func (s *SinkWithSender[S, M]) Seal() {
	select {
	case <-s.sealed:
	default:
		close(s.sealed)
	}
}

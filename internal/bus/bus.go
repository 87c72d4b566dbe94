// Package bus serialises output from concurrent producers onto one writer.
package bus

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/ironsheep/image-lifecycle/internal/errors"
	"github.com/ironsheep/image-lifecycle/internal/logging"
)

// DefaultBuffer is the queue length used when New is given a negative size.
const DefaultBuffer = 256

// Counter is the subset of prometheus.Counter the bus reports rendered
// messages to.
type Counter interface {
	Inc()
}

// Bus is a FIFO of text messages drained by a single consumer goroutine.
//
// Messages from one producer are rendered in the order that producer
// published them. A message may span several lines; it is written in one
// piece and never interleaved with another message.
type Bus struct {
	out      io.Writer
	messages chan string
	done     chan struct{}
	logger   *logging.Logger
	rendered Counter

	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a bus writing to w. Call Start before publishing more than
// buffer messages.
func New(w io.Writer, buffer int, logger *logging.Logger) *Bus {
	if buffer < 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bus{
		out:      w,
		messages: make(chan string, buffer),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// SetCounter attaches a counter incremented per rendered message.
func (b *Bus) SetCounter(c Counter) { b.rendered = c }

// Start launches the consumer. It is idempotent.
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		go b.consume()
	})
}

// Publish enqueues msg. It blocks while the queue is full and fails with
// ErrBusClosed once Close has been called.
func (b *Bus) Publish(msg string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return apperrors.New(apperrors.CategoryIO, "bus.publish", apperrors.ErrBusClosed)
	}
	b.messages <- msg
	return nil
}

// Publishf formats and enqueues a message.
func (b *Bus) Publishf(format string, args ...any) error {
	return b.Publish(fmt.Sprintf(format, args...))
}

// Close stops accepting messages, renders everything still queued and waits
// for the consumer to exit.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.messages)
		b.mu.Unlock()
	})
	b.Start()
	<-b.done
}

func (b *Bus) consume() {
	defer close(b.done)
	for msg := range b.messages {
		if _, err := fmt.Fprintln(b.out, msg); err != nil {
			b.logger.Warn("failed to render message", zap.Error(err))
			continue
		}
		if b.rendered != nil {
			b.rendered.Inc()
		}
	}
}

package nats

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

const (
	// DefaultQueueSize bounds events waiting to be published.
	DefaultQueueSize = 1024

	// DefaultPublishTimeout bounds a single background publish.
	DefaultPublishTimeout = 2 * time.Second
)

var (
	// ErrQueueFull is returned when the background queue has no room.
	ErrQueueFull = errors.New("nats: event queue full")

	// ErrPublisherClosed is returned after Close.
	ErrPublisherClosed = errors.New("nats: publisher closed")
)

// AsyncPublisher hands events to a single background worker so callers
// never wait on the server. Events are published in the order accepted and
// dropped, never blocked on, when the queue is full.
type AsyncPublisher struct {
	next    Publisher
	timeout time.Duration
	logger  *logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *model.ConversationEvent
	done   chan struct{}
}

// NewAsyncPublisher starts the worker publishing through next.
func NewAsyncPublisher(next Publisher, queueSize int, timeout time.Duration, log *logger.Logger) *AsyncPublisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	p := &AsyncPublisher{
		next:    next,
		timeout: timeout,
		logger:  log,
		queue:   make(chan *model.ConversationEvent, queueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishEvent enqueues event without blocking.
func (p *AsyncPublisher) PublishEvent(_ context.Context, event *model.ConversationEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.next.PublishEvent(ctx, event)
		cancel()
		if err != nil {
			p.logger.Warn("failed to publish lifecycle event",
				zap.String("conversation_id", event.ConversationID),
				zap.String("type", string(event.Type)),
				zap.Error(err),
			)
		}
	}
}

// Package relay re-frames an upstream chat-completion event stream into
// client-facing events while accumulating the assistant text.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

const (
	DefaultIdleTimeout = 60 * time.Second
	DefaultBackoff     = 10 * time.Millisecond
	DefaultBufferSize  = 32
	readSize           = 4096
)

// State is the relay's position in its lifecycle.
type State int

const (
	StateStreaming State = iota
	StateDone
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Sink receives client-facing events in order. A non-nil error means the
// client is gone and the relay must stop.
type Sink interface {
	Send(ctx context.Context, event model.StreamEvent) error
}

// Opener opens the upstream stream.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Result describes how a relay run ended.
type Result struct {
	State     State
	Content   string
	Fragments int

	// Err is the upstream failure that moved the relay to StateErrored.
	Err error

	// Disconnected is set when the client went away or the request was
	// cancelled before the terminal event was delivered.
	Disconnected error
}

// Option configures a Relay.
type Option func(*Relay)

// WithIdleTimeout bounds how long the upstream may go without sending bytes.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithBackoff sets the pause after an empty read.
func WithBackoff(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.backoff = d
		}
	}
}

// WithBufferSize sets how many events may wait between reader and writer.
func WithBufferSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// WithLogger sets the relay logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// Relay converts upstream streams into client events. It holds no
// per-stream state and may be shared.
type Relay struct {
	idleTimeout time.Duration
	backoff     time.Duration
	bufferSize  int
	logger      *logger.Logger
}

// New creates a Relay.
func New(opts ...Option) *Relay {
	r := &Relay{
		idleTimeout: DefaultIdleTimeout,
		backoff:     DefaultBackoff,
		bufferSize:  DefaultBufferSize,
		logger:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run emits meta, opens the upstream and relays it to sink until a terminal
// event. Exactly one of end or error is emitted unless the client goes away.
func (r *Relay) Run(ctx context.Context, meta model.MetaEvent, open Opener, sink Sink) *Result {
	if err := sink.Send(ctx, model.StreamEvent{Type: model.StreamEventMeta, Data: meta}); err != nil {
		return &Result{State: StateErrored, Disconnected: err}
	}

	body, err := open(ctx)
	if err != nil {
		res := &Result{State: StateErrored, Err: err}
		if ctx.Err() != nil {
			res.Disconnected = ctx.Err()
			return res
		}
		if sendErr := sink.Send(ctx, errorEvent(err)); sendErr != nil {
			res.Disconnected = sendErr
		}
		return res
	}
	defer body.Close()

	events := make(chan model.StreamEvent, r.bufferSize)
	g, gctx := errgroup.WithContext(ctx)

	// Unblocks a pending upstream read once the client side gives up.
	stop := context.AfterFunc(gctx, func() { _ = body.Close() })
	defer stop()

	p := &pump{
		relay:  r,
		ctx:    gctx,
		body:   body,
		events: events,
		state:  StateStreaming,
	}

	g.Go(func() error {
		defer close(events)
		return p.run()
	})

	g.Go(func() error {
		for ev := range events {
			if err := sink.Send(gctx, ev); err != nil {
				return err
			}
		}
		return nil
	})

	waitErr := g.Wait()

	res := &Result{
		State:     p.state,
		Content:   p.content.String(),
		Fragments: p.fragments,
		Err:       p.err,
	}
	if waitErr != nil {
		res.Disconnected = waitErr
		if res.State == StateStreaming {
			res.State = StateErrored
		}
	}
	return res
}

// pump is the read side of one relay run. Its fields are only touched by
// the reader goroutine until the group has been waited on.
type pump struct {
	relay  *Relay
	ctx    context.Context
	body   io.ReadCloser
	events chan<- model.StreamEvent

	dec       lineDecoder
	content   strings.Builder
	fragments int
	skipped   int
	state     State
	err       error
}

func (p *pump) run() error {
	idle := p.relay.idleTimeout

	// The watchdog only runs while waiting on the upstream. Time spent
	// handing events to a slow client does not count as idleness.
	var stalled atomic.Bool
	watchdog := time.AfterFunc(idle, func() {
		stalled.Store(true)
		_ = p.body.Close()
	})
	watchdog.Stop()
	defer watchdog.Stop()

	lastProgress := time.Now()
	buf := make([]byte, readSize)
	for {
		remaining := idle - time.Since(lastProgress)
		if remaining <= 0 {
			return p.fail(&llm.TransportError{Err: llm.ErrStreamStalled})
		}

		watchdog.Reset(remaining)
		n, readErr := p.body.Read(buf)
		watchdog.Stop()

		if n > 0 {
			done, err := p.lines(p.dec.Write(buf[:n]))
			if err != nil || done {
				return err
			}
			lastProgress = time.Now()
		}

		switch {
		case readErr == nil && n == 0:
			if stalled.Load() {
				return p.fail(&llm.TransportError{Err: llm.ErrStreamStalled})
			}
			select {
			case <-p.ctx.Done():
				return p.ctx.Err()
			case <-time.After(p.relay.backoff):
			}
		case errors.Is(readErr, io.EOF):
			done, err := p.lines(p.dec.Flush())
			if err != nil || done {
				return err
			}
			p.state = StateDone
			return p.emit(model.StreamEvent{Type: model.StreamEventEnd, Data: model.EndEvent{}})
		case readErr != nil:
			if stalled.Load() {
				return p.fail(&llm.TransportError{Err: llm.ErrStreamStalled})
			}
			if p.ctx.Err() != nil {
				return p.ctx.Err()
			}
			return p.fail(&llm.TransportError{Err: readErr})
		}
	}
}

// lines handles decoded lines and reports whether a terminal event was emitted.
func (p *pump) lines(lines []string) (bool, error) {
	for _, line := range lines {
		payload, ok := dataPayload(line)
		if !ok {
			continue
		}

		if payload == llm.DoneSentinel {
			p.state = StateDone
			return true, p.emit(model.StreamEvent{Type: model.StreamEventEnd, Data: model.EndEvent{}})
		}

		chunk, err := llm.ParseStreamChunk([]byte(payload))
		if err != nil {
			p.skipped++
			p.relay.logger.Debug("skipping malformed stream line",
				zap.Int("skipped", p.skipped),
				zap.Error(err),
			)
			continue
		}

		if msg, ok := chunk.ErrorMessage(); ok {
			return true, p.fail(&llm.UpstreamError{Status: frameStatus(chunk.Error), Message: msg})
		}

		fragment, ok := chunk.DeltaContent()
		if !ok {
			continue
		}
		p.content.WriteString(fragment)
		p.fragments++
		if err := p.emit(model.StreamEvent{Type: model.StreamEventToken, Data: model.TokenEvent{Content: fragment}}); err != nil {
			return true, err
		}
	}
	return false, nil
}

func (p *pump) fail(err error) error {
	p.state = StateErrored
	p.err = err
	return p.emit(errorEvent(err))
}

func (p *pump) emit(ev model.StreamEvent) error {
	select {
	case p.events <- ev:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

func errorEvent(err error) model.StreamEvent {
	return model.StreamEvent{
		Type: model.StreamEventError,
		Data: model.ErrorEvent{Message: llm.MessageFor(err)},
	}
}

// frameStatus reads an HTTP status from an in-stream error code.
func frameStatus(body *llm.ErrorBody) int {
	var code int
	if body != nil && json.Unmarshal(body.Code, &code) == nil && code >= 400 && code < 600 {
		return code
	}
	return http.StatusBadGateway
}

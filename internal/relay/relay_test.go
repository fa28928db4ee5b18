package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
)

// recordingSink collects events and can be told to fail.
type recordingSink struct {
	mu      sync.Mutex
	events  []model.StreamEvent
	failAt  int // fail the Nth send (1-based); 0 never fails
	onSend  func(model.StreamEvent)
	sendErr error
}

func (s *recordingSink) Send(_ context.Context, ev model.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.events)+1 == s.failAt {
		s.sendErr = errors.New("client closed connection")
		return s.sendErr
	}
	s.events = append(s.events, ev)
	if s.onSend != nil {
		s.onSend(ev)
	}
	return nil
}

func (s *recordingSink) snapshot() []model.StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StreamEvent(nil), s.events...)
}

func types(events []model.StreamEvent) []model.StreamEventType {
	out := make([]model.StreamEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func tokens(events []model.StreamEvent) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == model.StreamEventToken {
			out = append(out, ev.Data.(model.TokenEvent).Content)
		}
	}
	return out
}

// chunkedBody returns its chunks one Read at a time, then tail.
type chunkedBody struct {
	mu     sync.Mutex
	chunks [][]byte
	tail   error
	closed bool
}

func newChunkedBody(tail error, chunks ...string) *chunkedBody {
	b := &chunkedBody{tail: tail}
	for _, c := range chunks {
		b.chunks = append(b.chunks, []byte(c))
	}
	return b
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.New("read on closed body")
	}
	if len(b.chunks) == 0 {
		return 0, b.tail
	}
	n := copy(p, b.chunks[0])
	if n < len(b.chunks[0]) {
		b.chunks[0] = b.chunks[0][n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkedBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// blockingBody hands out chunks as they are pushed and blocks when empty.
type blockingBody struct {
	chunks chan []byte
	closed chan struct{}
	once   sync.Once
}

func newBlockingBody() *blockingBody {
	return &blockingBody{chunks: make(chan []byte, 16), closed: make(chan struct{})}
}

func (b *blockingBody) Read(p []byte) (int, error) {
	select {
	case c := <-b.chunks:
		return copy(p, c), nil
	case <-b.closed:
		return 0, errors.New("use of closed network connection")
	}
}

func (b *blockingBody) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func (b *blockingBody) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

func opener(body io.ReadCloser) Opener {
	return func(context.Context) (io.ReadCloser, error) { return body, nil }
}

func tokenLine(s string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", s)
}

var testMeta = model.MetaEvent{ConversationID: "conv-1"}

func TestRun_TokensThenDone(t *testing.T) {
	body := newChunkedBody(io.EOF, tokenLine("A"), tokenLine("B"), "data: [DONE]\n\n")
	sink := &recordingSink{}

	res := New().Run(context.Background(), testMeta, opener(body), sink)

	events := sink.snapshot()
	assert.Equal(t, []model.StreamEventType{
		model.StreamEventMeta, model.StreamEventToken, model.StreamEventToken, model.StreamEventEnd,
	}, types(events))
	assert.Equal(t, testMeta, events[0].Data)
	assert.Equal(t, []string{"A", "B"}, tokens(events))
	assert.Equal(t, model.EndEvent{}, events[3].Data)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "AB", res.Content)
	assert.Equal(t, 2, res.Fragments)
	assert.NoError(t, res.Err)
	assert.NoError(t, res.Disconnected)
	assert.True(t, body.closed)
}

func TestRun_ChunkBoundaryInvariance(t *testing.T) {
	stream := strings.Join([]string{
		": OPENROUTER PROCESSING\n\n",
		tokenLine("Hel"),
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\r\n\r\n",
		tokenLine("lo, "),
		"data:{\"choices\":[{\"delta\":{\"content\":\"wörld\"}}]}\r\r",
		tokenLine("漢字 "),
		"data: not-json\n",
		tokenLine("\n- item"),
		"event: ping\n",
		"data: [DONE]\n\n",
		tokenLine("never"),
	}, "")

	whole := New().Run(context.Background(), testMeta, opener(newChunkedBody(io.EOF, stream)), &recordingSink{})
	require.Equal(t, StateDone, whole.State)
	want := "Hello, wörld漢字 \n- item"
	require.Equal(t, want, whole.Content)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		var chunks []string
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(12)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}

		sink := &recordingSink{}
		res := New().Run(context.Background(), testMeta, opener(newChunkedBody(io.EOF, chunks...)), sink)

		require.Equal(t, StateDone, res.State, "split %d", i)
		require.Equal(t, want, res.Content, "split %d", i)
		require.Equal(t, []string{"Hel", "lo, ", "wörld", "漢字 ", "\n- item"}, tokens(sink.snapshot()), "split %d", i)
	}
}

func TestRun_DoneIgnoresTrailingGarbage(t *testing.T) {
	tests := []struct {
		name  string
		after string
	}{
		{"more tokens", tokenLine("X") + tokenLine("Y")},
		{"binary junk", "\x00\xff\xfe garbage"},
		{"second done", "data: [DONE]\n\n"},
		{"error frame", "data: {\"error\":{\"message\":\"late\"}}\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := newChunkedBody(errors.New("connection reset"), tokenLine("A")+"data: [DONE]\n\n"+tt.after)
			sink := &recordingSink{}

			res := New().Run(context.Background(), testMeta, opener(body), sink)

			assert.Equal(t, []model.StreamEventType{
				model.StreamEventMeta, model.StreamEventToken, model.StreamEventEnd,
			}, types(sink.snapshot()))
			assert.Equal(t, StateDone, res.State)
			assert.Equal(t, "A", res.Content)
		})
	}
}

func TestRun_TransportFaultAfterTokens(t *testing.T) {
	for n := 0; n <= 3; n++ {
		t.Run(fmt.Sprintf("%d tokens", n), func(t *testing.T) {
			var chunks []string
			var want strings.Builder
			for i := 0; i < n; i++ {
				frag := fmt.Sprintf("t%d ", i)
				chunks = append(chunks, tokenLine(frag))
				want.WriteString(frag)
			}
			body := newChunkedBody(errors.New("unexpected EOF"), chunks...)
			sink := &recordingSink{}

			res := New().Run(context.Background(), testMeta, opener(body), sink)

			events := sink.snapshot()
			require.Len(t, events, n+2)
			last := events[len(events)-1]
			assert.Equal(t, model.StreamEventError, last.Type)
			assert.Equal(t, model.ErrorEvent{Message: llm.DefaultErrorMessage}, last.Data)
			for _, ev := range events {
				assert.NotEqual(t, model.StreamEventEnd, ev.Type)
			}

			assert.Equal(t, StateErrored, res.State)
			assert.Equal(t, want.String(), res.Content)
			var tErr *llm.TransportError
			assert.ErrorAs(t, res.Err, &tErr)
		})
	}
}

func TestRun_ErrorFrame(t *testing.T) {
	body := newChunkedBody(io.EOF,
		tokenLine("par"),
		"data: {\"error\":{\"message\":\"Provider returned error\",\"code\":429}}\n\n",
		tokenLine("ignored"),
	)
	sink := &recordingSink{}

	res := New().Run(context.Background(), testMeta, opener(body), sink)

	events := sink.snapshot()
	assert.Equal(t, []model.StreamEventType{
		model.StreamEventMeta, model.StreamEventToken, model.StreamEventError,
	}, types(events))
	assert.Equal(t, model.ErrorEvent{Message: "Provider returned error"}, events[2].Data)
	assert.Equal(t, "par", res.Content)

	var upErr *llm.UpstreamError
	require.ErrorAs(t, res.Err, &upErr)
	assert.Equal(t, 429, upErr.Status)
}

func TestRun_EOFWithoutDone(t *testing.T) {
	// Final line has no terminator.
	body := newChunkedBody(io.EOF, tokenLine("A"), `data: {"choices":[{"delta":{"content":"B"}}]}`)
	sink := &recordingSink{}

	res := New().Run(context.Background(), testMeta, opener(body), sink)

	assert.Equal(t, []string{"A", "B"}, tokens(sink.snapshot()))
	assert.Equal(t, model.StreamEventEnd, sink.snapshot()[3].Type)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "AB", res.Content)
}

func TestRun_EmptyReadsAreRetried(t *testing.T) {
	body := &flakyBody{inner: newChunkedBody(io.EOF, tokenLine("A"), "data: [DONE]\n")}
	sink := &recordingSink{}

	res := New(WithBackoff(time.Millisecond)).Run(context.Background(), testMeta, opener(body), sink)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "A", res.Content)
	assert.GreaterOrEqual(t, body.empty, 2)
}

// flakyBody answers every other Read with zero bytes.
type flakyBody struct {
	inner *chunkedBody
	calls int
	empty int
}

func (b *flakyBody) Read(p []byte) (int, error) {
	b.calls++
	if b.calls%2 == 1 {
		b.empty++
		return 0, nil
	}
	return b.inner.Read(p)
}

func (b *flakyBody) Close() error { return b.inner.Close() }

func TestRun_HandshakeFailure(t *testing.T) {
	sink := &recordingSink{}
	open := func(context.Context) (io.ReadCloser, error) {
		return nil, &llm.UpstreamError{Status: 401, Message: "No auth credentials found"}
	}

	res := New().Run(context.Background(), testMeta, open, sink)

	events := sink.snapshot()
	assert.Equal(t, []model.StreamEventType{model.StreamEventMeta, model.StreamEventError}, types(events))
	assert.Equal(t, model.ErrorEvent{Message: "No auth credentials found"}, events[1].Data)
	assert.Equal(t, StateErrored, res.State)
	assert.Empty(t, res.Content)
}

func TestRun_MetaFailureSkipsUpstream(t *testing.T) {
	opened := false
	open := func(context.Context) (io.ReadCloser, error) {
		opened = true
		return newChunkedBody(io.EOF), nil
	}

	res := New().Run(context.Background(), testMeta, open, &recordingSink{failAt: 1})

	assert.False(t, opened)
	assert.Error(t, res.Disconnected)
}

func TestRun_SinkFailureAbortsAndClosesUpstream(t *testing.T) {
	body := newBlockingBody()
	body.chunks <- []byte(tokenLine("A"))
	body.chunks <- []byte(tokenLine("B"))
	sink := &recordingSink{failAt: 3}

	done := make(chan *Result, 1)
	go func() { done <- New().Run(context.Background(), testMeta, opener(body), sink) }()

	select {
	case res := <-done:
		assert.Error(t, res.Disconnected)
		assert.Equal(t, StateErrored, res.State)
		assert.Equal(t, "AB", res.Content)
		assert.True(t, body.isClosed())
		assert.Equal(t, []string{"A"}, tokens(sink.snapshot()))
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not abort after sink failure")
	}
}

func TestRun_CancelledRequestKeepsPartialContent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	body := newBlockingBody()
	body.chunks <- []byte(tokenLine("partial"))
	sink := &recordingSink{onSend: func(ev model.StreamEvent) {
		if ev.Type == model.StreamEventToken {
			cancel()
		}
	}}

	res := New().Run(ctx, testMeta, opener(body), sink)

	assert.ErrorIs(t, res.Disconnected, context.Canceled)
	assert.Equal(t, "partial", res.Content)
	assert.True(t, body.isClosed())
}

func TestRun_IdleStall(t *testing.T) {
	body := newBlockingBody()
	body.chunks <- []byte(tokenLine("A"))
	sink := &recordingSink{}

	start := time.Now()
	res := New(WithIdleTimeout(50*time.Millisecond)).Run(context.Background(), testMeta, opener(body), sink)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateErrored, res.State)
	assert.Equal(t, "A", res.Content)
	assert.ErrorIs(t, res.Err, llm.ErrStreamStalled)
	assert.NoError(t, res.Disconnected)

	events := sink.snapshot()
	assert.Equal(t, model.StreamEventError, events[len(events)-1].Type)
}

func TestRun_SlowClientIsBounded(t *testing.T) {
	var chunks []string
	for i := 0; i < 500; i++ {
		chunks = append(chunks, tokenLine("x"))
	}
	chunks = append(chunks, "data: [DONE]\n\n")

	sink := &recordingSink{onSend: func(model.StreamEvent) { time.Sleep(50 * time.Microsecond) }}
	res := New(WithBufferSize(2)).Run(context.Background(), testMeta, opener(newChunkedBody(io.EOF, chunks...)), sink)

	assert.Equal(t, StateDone, res.State)
	assert.Len(t, tokens(sink.snapshot()), 500)
}

func TestRun_SlowClientIsNotAnUpstreamStall(t *testing.T) {
	var burst strings.Builder
	for i := 0; i < 10; i++ {
		burst.WriteString(tokenLine("x"))
	}
	body := newChunkedBody(io.EOF, burst.String(), "data: [DONE]\n\n")

	// Draining the first read takes about twice the idle budget.
	sink := &recordingSink{onSend: func(model.StreamEvent) { time.Sleep(20 * time.Millisecond) }}
	res := New(WithIdleTimeout(100*time.Millisecond), WithBufferSize(1)).
		Run(context.Background(), testMeta, opener(body), sink)

	require.Equal(t, StateDone, res.State, "err: %v", res.Err)
	assert.NoError(t, res.Err)
	assert.Equal(t, strings.Repeat("x", 10), res.Content)

	events := sink.snapshot()
	assert.Len(t, tokens(events), 10)
	assert.Equal(t, model.StreamEventEnd, events[len(events)-1].Type)
	ends := 0
	for _, ev := range events {
		if ev.Type == model.StreamEventEnd {
			ends++
		}
	}
	assert.Equal(t, 1, ends)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "errored", StateErrored.String())
}

package subscription_test

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	sent   []domain.Notification
	done   chan struct{}
	onSend func(n domain.Notification) error
}

func newSink() *recordingSink {
	return &recordingSink{done: make(chan struct{})}
}

func (s *recordingSink) Send(_ context.Context, n domain.Notification) error {
	if s.onSend != nil {
		if err := s.onSend(n); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.sent = append(s.sent, n)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Done() <-chan struct{} { return s.done }

// split separates item payloads from the close notice, if one was sent.
func (s *recordingSink) split(t *testing.T) ([]string, *domain.CloseNotice) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []string
	var notice *domain.CloseNotice
	for _, n := range s.sent {
		var msg domain.SubscriptionMessage
		require.NoError(t, json.Unmarshal(n.Params, &msg))
		var probe map[string]json.RawMessage
		if json.Unmarshal(msg.Result, &probe) == nil {
			if _, ok := probe["close_stream"]; ok {
				require.Nil(t, notice, "close notice sent twice")
				notice = new(domain.CloseNotice)
				require.NoError(t, json.Unmarshal(msg.Result, notice))
				continue
			}
		}
		require.Nil(t, notice, "item sent after the close notice")
		items = append(items, string(msg.Result))
	}
	return items, notice
}

func numbers(n int) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for i := range n {
			if !yield(json.RawMessage(strconv.Itoa(i)), nil) {
				return
			}
		}
	}
}

func endless(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for i := 0; ; i++ {
			if ctx.Err() != nil {
				return
			}
			if !yield(json.RawMessage(strconv.Itoa(i)), nil) {
				return
			}
		}
	}
}

func open(t *testing.T, m *subscription.Manager, sink *recordingSink) *subscription.Subscription {
	t.Helper()
	s := m.Open(context.Background(), subscription.Request{Method: "counter", Client: "c1", Sink: sink})
	require.Equal(t, subscription.StatePending, s.State())
	return s
}

func waitDone(t *testing.T, s *subscription.Subscription) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}

func TestSubscription_Exhausted(t *testing.T) {
	m := subscription.NewManager()
	sink := newSink()
	s := open(t, m, sink)
	require.NoError(t, s.Accept(numbers(3)))

	s.Run(context.Background())

	items, notice := sink.split(t)
	assert.Equal(t, []string{"0", "1", "2"}, items)
	require.NotNil(t, notice)
	assert.Equal(t, domain.CloseNotice{Subscription: s.ID(), Count: 3}, *notice)
	assert.Equal(t, subscription.StateClosed, s.State())
	assert.Equal(t, 0, m.Len())

	recorded, ok := s.Notice()
	require.True(t, ok)
	assert.Equal(t, *notice, recorded)

	sink.mu.Lock()
	assert.Equal(t, "counter_notif", sink.sent[0].Method)
	sink.mu.Unlock()
}

func TestSubscription_UnsubscribeAfterFirstItem(t *testing.T) {
	m := subscription.NewManager()
	sink := newSink()
	s := open(t, m, sink)

	sink.onSend = func(n domain.Notification) error {
		var msg domain.SubscriptionMessage
		_ = json.Unmarshal(n.Params, &msg)
		if string(msg.Result) == "0" {
			assert.True(t, m.Unsubscribe(msg.Subscription))
		}
		return nil
	}
	require.NoError(t, s.Accept(numbers(3)))
	s.Run(context.Background())

	items, notice := sink.split(t)
	assert.Equal(t, []string{"0"}, items, "items after unsubscribe must not be sent")
	require.NotNil(t, notice)
	assert.Equal(t, uint64(1), notice.Count)
	assert.Nil(t, notice.Error)
	assert.False(t, m.Unsubscribe(s.ID()), "second unsubscribe finds nothing")
}

func TestSubscription_StreamError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"plain error is internal", errors.New("disk on fire"), domain.CodeInternal},
		{"rpc error is forwarded", domain.NewError(4100, "feed gone", nil), 4100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := subscription.NewManager()
			sink := newSink()
			s := open(t, m, sink)
			require.NoError(t, s.Accept(func(yield func(json.RawMessage, error) bool) {
				if !yield(json.RawMessage(`"a"`), nil) {
					return
				}
				yield(nil, tt.err)
			}))
			s.Run(context.Background())

			items, notice := sink.split(t)
			assert.Equal(t, []string{`"a"`}, items)
			require.NotNil(t, notice)
			require.NotNil(t, notice.Error)
			assert.Equal(t, tt.wantCode, notice.Error.Code)
			assert.Equal(t, uint64(1), notice.Count)
		})
	}
}

func TestSubscription_PanickingProducer(t *testing.T) {
	m := subscription.NewManager()
	sink := newSink()
	s := open(t, m, sink)
	require.NoError(t, s.Accept(func(yield func(json.RawMessage, error) bool) {
		panic("boom")
	}))
	s.Run(context.Background())

	_, notice := sink.split(t)
	require.NotNil(t, notice)
	require.NotNil(t, notice.Error)
	assert.Equal(t, domain.CodeInternal, notice.Error.Code)
}

func TestSubscription_SendFailure(t *testing.T) {
	m := subscription.NewManager()
	sink := newSink()
	pulled := 0
	sink.onSend = func(domain.Notification) error { return errors.New("broken pipe") }
	s := open(t, m, sink)
	require.NoError(t, s.Accept(func(yield func(json.RawMessage, error) bool) {
		for i := range 100 {
			pulled++
			if !yield(json.RawMessage(strconv.Itoa(i)), nil) {
				return
			}
		}
	}))
	s.Run(context.Background())

	assert.Empty(t, sink.sent, "no retry and no close notice")
	notice, ok := s.Notice()
	require.True(t, ok)
	assert.Equal(t, uint64(0), notice.Count)
	assert.Equal(t, subscription.StateClosed, s.State())
	assert.Less(t, pulled, 100, "producer stops once the subscription is closed")
}

func TestSubscription_TransportClosed(t *testing.T) {
	m := subscription.NewManager(subscription.WithCapacity(2))
	sink := newSink()
	var once sync.Once
	sink.onSend = func(domain.Notification) error {
		once.Do(func() { close(sink.done) })
		return nil
	}
	s := open(t, m, sink)
	require.NoError(t, s.Accept(endless(s.Context())))

	go s.Run(context.Background())
	waitDone(t, s)

	_, notice := sink.split(t)
	assert.Nil(t, notice, "no close notice on a closed transport")
	recorded, ok := s.Notice()
	require.True(t, ok)
	assert.Equal(t, s.Count(), recorded.Count)
	assert.Error(t, s.Context().Err(), "handler context is cancelled")
}

func TestSubscription_Rejected(t *testing.T) {
	m := subscription.NewManager()
	sink := newSink()
	s := open(t, m, sink)
	require.Equal(t, 1, m.Len())

	require.NoError(t, s.Reject(domain.NewError(4000, "not allowed", nil)))
	assert.Equal(t, subscription.StateRejected, s.State())
	assert.Equal(t, 0, m.Len())
	assert.ErrorIs(t, s.Accept(numbers(1)), subscription.ErrNotPending)

	s.Run(context.Background())
	items, notice := sink.split(t)
	assert.Empty(t, items)
	require.NotNil(t, notice)
	assert.Equal(t, uint64(0), notice.Count)
	require.NotNil(t, notice.Error)
	assert.Equal(t, 4000, notice.Error.Code)
}

func TestSubscription_AcceptTwice(t *testing.T) {
	m := subscription.NewManager()
	s := open(t, m, newSink())
	require.NoError(t, s.Accept(numbers(1)))
	assert.ErrorIs(t, s.Accept(numbers(1)), subscription.ErrNotPending)
	assert.ErrorIs(t, s.Reject(errors.New("late")), subscription.ErrNotPending)
	assert.Error(t, open(t, m, newSink()).Accept(nil))
}

func TestManager_Limits(t *testing.T) {
	m := subscription.NewManager(subscription.WithMaxPerClient(1), subscription.WithMaxGlobal(2))
	ctx := context.Background()

	first := m.Open(ctx, subscription.Request{Method: "counter", Client: "a", Sink: newSink()})
	require.Nil(t, first.Err())

	again := m.Open(ctx, subscription.Request{Method: "counter", Client: "a", Sink: newSink()})
	assert.Equal(t, subscription.StateRejected, again.State())
	require.NotNil(t, again.Err())
	assert.Equal(t, domain.CodeTooManySubscriptions, again.Err().Code)

	other := m.Open(ctx, subscription.Request{Method: "counter", Client: "b", Sink: newSink()})
	require.Nil(t, other.Err())

	third := m.Open(ctx, subscription.Request{Method: "counter", Client: "c", Sink: newSink()})
	assert.Equal(t, subscription.StateRejected, third.State(), "global limit")
	assert.Equal(t, 2, m.Len())

	// Closing frees the client's slot.
	require.NoError(t, first.Accept(numbers(0)))
	first.Run(ctx)
	next := m.Open(ctx, subscription.Request{Method: "counter", Client: "a", Sink: newSink()})
	assert.Nil(t, next.Err())
}

func TestManager_ActiveAndIDs(t *testing.T) {
	n := 0
	m := subscription.NewManager(subscription.WithIDGenerator(func() string {
		n++
		return "sub-" + strconv.Itoa(n)
	}))
	ctx := context.Background()
	m.Open(ctx, subscription.Request{Method: "a", Sink: newSink()})
	m.Open(ctx, subscription.Request{Method: "b", Sink: newSink()})

	assert.Equal(t, []string{"sub-1", "sub-2"}, m.Active())
	s, ok := m.Get("sub-2")
	require.True(t, ok)
	assert.Equal(t, "b", s.Method())
}

func TestManager_Shutdown(t *testing.T) {
	m := subscription.NewManager()
	sink := newSink()
	running := open(t, m, sink)
	require.NoError(t, running.Accept(endless(running.Context())))
	go running.Run(context.Background())

	idle := open(t, m, newSink())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Equal(t, 0, m.Len())
	waitDone(t, idle)
	_, notice := sink.split(t)
	require.NotNil(t, notice, "live transports get the close notice")
	assert.Equal(t, running.Count(), notice.Count)
}

func TestManager_ShutdownBeforeRun(t *testing.T) {
	m := subscription.NewManager()
	sink := newSink()
	s := open(t, m, sink)
	require.NoError(t, s.Accept(numbers(3)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	// The transport starts Run after the subscribe response; it is a no-op now.
	s.Run(context.Background())
	waitDone(t, s)

	assert.Equal(t, subscription.StateClosed, s.State())
	items, notice := sink.split(t)
	assert.Empty(t, items)
	require.NotNil(t, notice, "a live sink gets the close notice even if Run never started")
	assert.Equal(t, s.ID(), notice.Subscription)
	assert.Zero(t, notice.Count)
	assert.Nil(t, notice.Error)
}

func TestManager_ShutdownBeforeRun_SinkGone(t *testing.T) {
	m := subscription.NewManager()
	sink := newSink()
	s := open(t, m, sink)
	require.NoError(t, s.Accept(numbers(3)))
	close(sink.done)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	_, notice := sink.split(t)
	assert.Nil(t, notice)
	_, ok := s.Notice()
	assert.True(t, ok, "the notice is recorded even when it cannot be sent")
}

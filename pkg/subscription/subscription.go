package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/ports"
)

// ErrNotPending is returned by Accept and Reject once the subscription has left Pending.
var ErrNotPending = errors.New("subscription is not pending")

// Subscription is one active stream of items to one sink.
type Subscription struct {
	id     string
	method string
	client string
	sink   ports.Sink
	mgr    *Manager

	// ctx is handed to the handler and cancelled when the stream ends.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	seq        iter.Seq2[json.RawMessage, error]
	err        *domain.RpcError
	reason     string
	notice     *domain.CloseNotice
	registered bool

	closed    atomic.Bool
	running   atomic.Bool
	count     atomic.Uint64
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	finishing sync.Once
}

func newSubscription(m *Manager, req Request, id string, parent context.Context) *Subscription {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Subscription{
		id:     id,
		method: req.Method,
		client: req.Client,
		sink:   req.Sink,
		mgr:    m,
		ctx:    ctx,
		cancel: cancel,
		state:  StatePending,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ID is the subscription id returned to the client.
func (s *Subscription) ID() string { return s.id }

// Method is the subscription path.
func (s *Subscription) Method() string { return s.method }

// NotifMethod is the method every notification of this subscription is sent on.
func (s *Subscription) NotifMethod() string { return s.method + NotifSuffix }

// Context is cancelled when the subscription closes. Handlers producing the
// sequence should observe it.
func (s *Subscription) Context() context.Context { return s.ctx }

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the rejection error, or nil.
func (s *Subscription) Err() *domain.RpcError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRejected {
		return nil
	}
	return s.err
}

// Count is the number of items successfully handed to the sink.
func (s *Subscription) Count() uint64 { return s.count.Load() }

// Done is closed once the subscription reached Closed or its rejection was settled.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Notice returns the close notice once the subscription has finished.
func (s *Subscription) Notice() (domain.CloseNotice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notice == nil {
		return domain.CloseNotice{}, false
	}
	return *s.notice, true
}

// Accept moves a Pending subscription to Accepted with the item sequence to forward.
func (s *Subscription) Accept(seq iter.Seq2[json.RawMessage, error]) error {
	if seq == nil {
		return fmt.Errorf("accept %s: nil sequence", s.id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePending {
		return fmt.Errorf("accept %s: %w (%s)", s.id, ErrNotPending, s.state)
	}
	s.state = StateAccepted
	s.seq = seq
	return nil
}

// Reject moves a Pending subscription to Rejected and unregisters it. The
// error is carried by the close notice that Run delivers.
func (s *Subscription) Reject(err error) error {
	rpcErr, ok := domain.AsRpcError(err)
	if !ok {
		rpcErr = domain.Internal()
	}

	s.mu.Lock()
	if s.state != StatePending {
		s.mu.Unlock()
		return fmt.Errorf("reject %s: %w (%s)", s.id, ErrNotPending, s.state)
	}
	s.state = StateRejected
	s.err = rpcErr
	s.reason = observability.ReasonRejected
	s.mu.Unlock()

	s.closed.Store(true)
	s.cancel()
	s.mgr.remove(s)
	s.mgr.logger.Debug("subscription rejected", "method", s.method, "subscription", s.id, "code", rpcErr.Code)
	return nil
}

// requestClose flags the subscription closed and wakes the forwarder.
// It reports whether this call was the one that closed it.
func (s *Subscription) requestClose(reason string) bool {
	if !s.closed.CompareAndSwap(false, true) {
		return false
	}
	s.mu.Lock()
	if s.reason == "" {
		s.reason = reason
	}
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
	s.cancel()
	return true
}

// Run forwards the accepted sequence to the sink until the stream ends, the
// client unsubscribes, the transport goes away or the manager shuts down. It
// then sends the close notice, unless the transport is the reason it stopped.
// For a Rejected subscription it only delivers the close notice with the error.
//
// Run blocks; transports start it in its own goroutine after writing the
// subscribe response. It must be called at most once.
func (s *Subscription) Run(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	state, seq := s.state, s.seq
	if state == StateAccepted {
		s.state = StateStreaming
	}
	s.mu.Unlock()

	switch state {
	case StateRejected:
		s.finish(ctx, s.Err(), s.sinkAlive(ctx))
		return
	case StateAccepted:
	default:
		// Run without Accept: the dispatcher never completed the handshake.
		s.requestClose(observability.ReasonFailed)
		s.finish(ctx, domain.Internal(), s.sinkAlive(ctx))
		return
	}

	streamErr, transportOK := s.forward(ctx, seq)
	s.finish(ctx, streamErr, transportOK)
}

// forward runs the producer and the writer. It returns the error that ended
// the stream and whether the transport can still take a close notice.
func (s *Subscription) forward(ctx context.Context, seq iter.Seq2[json.RawMessage, error]) (*domain.RpcError, bool) {
	items := make(chan json.RawMessage, s.mgr.capacity)
	quit := make(chan struct{})
	producerDone := make(chan struct{})
	var produceErr error

	go func() {
		defer close(producerDone)
		defer close(items)
		next, stop := iter.Pull2(seq)
		defer stop()
		defer func() {
			if r := recover(); r != nil {
				produceErr = fmt.Errorf("subscription handler panicked: %v", r)
			}
		}()
		for {
			if s.closed.Load() {
				return
			}
			raw, err, ok := next()
			if !ok {
				return
			}
			if err != nil {
				produceErr = err
				return
			}
			select {
			case items <- raw:
			case <-quit:
				return
			}
		}
	}()
	defer func() {
		// Release a producer blocked in the handler or on the buffer, then
		// wait so nothing is pulled once the close notice is out.
		s.cancel()
		close(quit)
		<-producerDone
	}()

	for {
		select {
		case raw, ok := <-items:
			if !ok {
				// Producer finished; produceErr is visible after the close.
				if produceErr != nil {
					s.setReason(observability.ReasonFailed)
					s.closed.Store(true)
					return s.streamError(produceErr), s.sinkAlive(ctx)
				}
				s.setReason(observability.ReasonCompleted)
				s.closed.Store(true)
				return nil, s.sinkAlive(ctx)
			}
			if s.closed.Load() {
				return nil, s.sinkAlive(ctx)
			}
			if err := s.send(ctx, raw); err != nil {
				s.setReason(observability.ReasonTransport)
				s.closed.Store(true)
				s.mgr.logger.Warn("subscription send failed", "method", s.method, "subscription", s.id, "error", err)
				return nil, false
			}
			s.count.Add(1)
			s.mgr.metrics.SubscriptionItem(s.method)
		case <-s.stop:
			return nil, s.sinkAlive(ctx)
		case <-s.sinkDone():
			s.setReason(observability.ReasonTransport)
			s.closed.Store(true)
			return nil, false
		case <-ctx.Done():
			s.setReason(observability.ReasonTransport)
			s.closed.Store(true)
			return nil, false
		}
	}
}

func (s *Subscription) send(ctx context.Context, result json.RawMessage) error {
	params, err := json.Marshal(domain.SubscriptionMessage{Subscription: s.id, Result: result})
	if err != nil {
		return err
	}
	return s.sink.Send(ctx, domain.NewNotification(s.NotifMethod(), params))
}

// finish records the close notice, sends it when the transport allows,
// unregisters the subscription and closes Done.
func (s *Subscription) finish(ctx context.Context, streamErr *domain.RpcError, transportOK bool) {
	s.finishing.Do(func() {
		s.cancel()

		s.mu.Lock()
		if s.state != StateRejected {
			s.state = StateClosing
		}
		notice := domain.CloseNotice{Subscription: s.id, Count: s.count.Load(), Error: streamErr}
		s.notice = &notice
		reason := s.reason
		s.mu.Unlock()

		if transportOK {
			if raw, err := json.Marshal(notice); err == nil {
				if err := s.send(ctx, raw); err != nil {
					s.mgr.logger.Debug("close notice not delivered", "subscription", s.id, "error", err)
				}
			}
		}

		s.mu.Lock()
		if s.state != StateRejected {
			s.state = StateClosed
		}
		s.mu.Unlock()

		s.mgr.remove(s)
		attrs := []any{"method", s.method, "subscription", s.id, "count", notice.Count, "reason", reason}
		if streamErr != nil {
			attrs = append(attrs, "code", streamErr.Code)
		}
		s.mgr.logger.Info("subscription closed", attrs...)
		close(s.done)
	})
}

// finishIdle settles a subscription that no transport started yet. The sink
// may still be live (the subscribe response is written before Run), so the
// close notice goes out whenever it can.
func (s *Subscription) finishIdle() {
	if s.running.CompareAndSwap(false, true) {
		ctx := context.Background()
		s.finish(ctx, s.Err(), s.sinkAlive(ctx))
	}
}

func (s *Subscription) streamError(err error) *domain.RpcError {
	if rpcErr, ok := domain.AsRpcError(err); ok {
		return rpcErr
	}
	s.mgr.logger.Error("subscription stream failed", "method", s.method, "subscription", s.id, "error", err)
	return domain.Internal()
}

func (s *Subscription) setReason(reason string) {
	s.mu.Lock()
	if s.reason == "" {
		s.reason = reason
	}
	s.mu.Unlock()
}

func (s *Subscription) sinkDone() <-chan struct{} {
	if s.sink == nil {
		return nil
	}
	return s.sink.Done()
}

func (s *Subscription) sinkAlive(ctx context.Context) bool {
	if s.sink == nil || ctx.Err() != nil {
		return false
	}
	select {
	case <-s.sink.Done():
		return false
	default:
		return true
	}
}

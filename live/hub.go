package live

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultUpdateBuffer is the per-subscription update channel capacity.
	DefaultUpdateBuffer = 8
	// DefaultEvaluateTimeout bounds one query evaluation.
	DefaultEvaluateTimeout = 5 * time.Second
)

// ErrHubClosed is returned when subscribing to a closed hub.
var ErrHubClosed = errors.New("live: hub is closed")

// Options controls hub behavior.
type Options struct {
	UpdateBuffer    int
	EvaluateTimeout time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.UpdateBuffer <= 0 {
		out.UpdateBuffer = DefaultUpdateBuffer
	}
	if out.EvaluateTimeout <= 0 {
		out.EvaluateTimeout = DefaultEvaluateTimeout
	}
	return out
}

// Update is one pushed query result.
type Update struct {
	SubscriptionID string
	Query          string
	Seq            uint64
	Data           any
	Err            error
}

// Hub routes committed changes to the live subscriptions that depend on them.
type Hub struct {
	opts   Options
	logger *zap.Logger

	mu        sync.RWMutex
	subs      map[string]*Subscription
	forwarder Forwarder
	closed    bool
}

// NewHub creates a hub with option defaults applied.
func NewHub(logger *zap.Logger, options Options) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		opts:   options.withDefaults(),
		logger: logger.Named("live"),
		subs:   make(map[string]*Subscription),
	}
}

// SetForwarder installs the cross-instance forwarder used by Publish.
func (h *Hub) SetForwarder(forwarder Forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forwarder = forwarder
}

// Publish delivers locally committed changes and forwards them to other instances.
func (h *Hub) Publish(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	h.Deliver(changes...)

	h.mu.RLock()
	forwarder := h.forwarder
	h.mu.RUnlock()
	if forwarder != nil {
		forwarder.Forward(changes)
	}
}

// Deliver marks every dependent subscription for re-evaluation without forwarding.
func (h *Hub) Deliver(changes ...Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		for _, change := range changes {
			if sub.query.DependsOn(change) {
				sub.markDirty()
				break
			}
		}
	}
}

// Subscribe starts a live query. The first update carries the current result;
// later updates are pushed only when a dependent change alters the result.
func (h *Hub) Subscribe(ctx context.Context, query Query) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		id:      uuid.NewString(),
		query:   query,
		hub:     h,
		dirty:   make(chan struct{}, 1),
		updates: make(chan Update, h.opts.UpdateBuffer),
		ctx:     subCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, ErrHubClosed
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	h.logger.Debug("subscription started",
		zap.String("subscription_id", sub.id),
		zap.String("query", query.Name()),
	)
	go sub.loop()
	return sub, nil
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close stops every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Subscription is one live query bound to a hub.
type Subscription struct {
	id    string
	query Query
	hub   *Hub

	dirty   chan struct{}
	updates chan Update

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	seq         uint64
	lastPayload []byte
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Updates yields pushed results. The channel is closed when the subscription ends.
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Close stops the subscription and waits for its loop to exit.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.hub.logger.Debug("subscription stopped",
			zap.String("subscription_id", s.id),
			zap.String("query", s.query.Name()),
		)
	})
}

func (s *Subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Subscription) loop() {
	defer close(s.done)
	defer close(s.updates)
	defer s.hub.remove(s.id)

	var tick <-chan time.Time
	if refresher, ok := s.query.(Refresher); ok {
		if interval := refresher.RefreshInterval(); interval > 0 {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}
	}

	s.evaluate()
	for {
		select {
		case <-s.dirty:
			s.evaluate()
		case <-tick:
			s.evaluate()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Subscription) evaluate() {
	evalCtx, cancel := context.WithTimeout(s.ctx, s.hub.opts.EvaluateTimeout)
	data, err := s.query.Evaluate(evalCtx)
	cancel()
	if s.ctx.Err() != nil {
		return
	}

	if err != nil {
		s.hub.logger.Warn("live query evaluation failed",
			zap.String("subscription_id", s.id),
			zap.String("query", s.query.Name()),
			zap.Error(err),
		)
		s.lastPayload = nil
		s.push(Update{Err: err})
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		s.lastPayload = nil
		s.push(Update{Err: err})
		return
	}
	if s.lastPayload != nil && bytes.Equal(payload, s.lastPayload) {
		return
	}
	s.lastPayload = payload
	s.push(Update{Data: data})
}

// push enqueues an update; when the consumer lags, the oldest queued update is
// dropped so the newest result is always delivered.
func (s *Subscription) push(update Update) {
	s.seq++
	update.SubscriptionID = s.id
	update.Query = s.query.Name()
	update.Seq = s.seq

	select {
	case s.updates <- update:
		return
	default:
	}

	select {
	case <-s.updates:
	default:
	}
	s.updates <- update
}

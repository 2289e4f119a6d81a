package network

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"chatsync/chat"
	"chatsync/live"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// frameConn is the subset of *websocket.Conn a session needs.
type frameConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// session serves live subscriptions for one WebSocket connection.
type session struct {
	conn    frameConn
	service *chat.Service
	logger  *zap.Logger

	out chan ServerFrame

	mu         sync.Mutex
	subs       map[string]*live.Subscription
	externalID string
}

func newSession(conn frameConn, service *chat.Service, logger *zap.Logger, outboundBuffer int) *session {
	if outboundBuffer <= 0 {
		outboundBuffer = DefaultOutboundBuffer
	}
	return &session{
		conn:    conn,
		service: service,
		logger:  logger,
		out:     make(chan ServerFrame, outboundBuffer),
		subs:    make(map[string]*live.Subscription),
	}
}

// run serves the connection until the client goes away, a write fails, or
// ctx is cancelled. A user announced with hello is disconnected on exit and
// goes offline once no other session holds them.
func (s *session) run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		_ = s.conn.Close()
		return nil
	})
	g.Go(func() error {
		return s.writeLoop(gctx)
	})
	g.Go(func() error {
		return s.readLoop(gctx, g)
	})

	err := g.Wait()
	s.closeSubscriptions()
	s.logger.Debug("live session ended", zap.Error(err))

	s.mu.Lock()
	externalID := s.externalID
	s.mu.Unlock()
	if externalID == "" {
		return
	}
	if err := s.service.Disconnect(context.WithoutCancel(ctx), externalID); err != nil {
		s.logger.Warn("disconnect user", zap.String("external_id", externalID), zap.Error(err))
	}
}

// readLoop always returns a non-nil error so the group is cancelled when the
// client disconnects.
func (s *session) readLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := DecodeClientFrame(payload)
		if err != nil {
			s.send(ctx, ServerFrame{Type: TypeError, Error: err.Error()})
			continue
		}

		switch frame.Type {
		case TypeHello:
			s.handleHello(ctx, frame)
		case TypeSubscribe:
			s.handleSubscribe(ctx, g, frame)
		case TypeUnsubscribe:
			s.handleUnsubscribe(ctx, frame)
		}
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-s.out:
			payload, err := EncodeJSON(frame)
			if err != nil {
				s.logger.Error("encode server frame", zap.String("id", frame.ID), zap.Error(err))
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		}
	}
}

func (s *session) send(ctx context.Context, frame ServerFrame) bool {
	select {
	case s.out <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// handleHello binds the session to a user. Repeating hello with the same ID is
// a no-op; a different ID releases the previous one.
func (s *session) handleHello(ctx context.Context, frame ClientFrame) {
	externalID := strings.TrimSpace(frame.ExternalID)
	if externalID == "" {
		s.send(ctx, ServerFrame{Type: TypeError, ID: frame.ID, Error: "hello requires external_id"})
		return
	}

	s.mu.Lock()
	previous := s.externalID
	s.mu.Unlock()
	if previous == externalID {
		s.send(ctx, ServerFrame{Type: TypeAck, ID: frame.ID})
		return
	}

	if err := s.service.Connect(ctx, externalID); err != nil {
		s.send(ctx, ServerFrame{Type: TypeError, ID: frame.ID, Error: publicError(err)})
		return
	}
	if previous != "" {
		if err := s.service.Disconnect(ctx, previous); err != nil {
			s.logger.Warn("disconnect user", zap.String("external_id", previous), zap.Error(err))
		}
	}

	s.mu.Lock()
	s.externalID = externalID
	s.mu.Unlock()
	s.send(ctx, ServerFrame{Type: TypeAck, ID: frame.ID})
}

func (s *session) handleSubscribe(ctx context.Context, g *errgroup.Group, frame ClientFrame) {
	s.mu.Lock()
	_, exists := s.subs[frame.ID]
	s.mu.Unlock()
	if exists {
		s.send(ctx, ServerFrame{Type: TypeError, ID: frame.ID, Error: ErrDuplicateSubscription.Error()})
		return
	}

	query, err := s.service.NewQuery(ctx, frame.Query, frame.Params)
	if err != nil {
		s.send(ctx, ServerFrame{Type: TypeError, ID: frame.ID, Error: err.Error()})
		return
	}
	sub, err := s.service.Subscribe(ctx, query)
	if err != nil {
		s.send(ctx, ServerFrame{Type: TypeError, ID: frame.ID, Error: err.Error()})
		return
	}

	s.mu.Lock()
	s.subs[frame.ID] = sub
	s.mu.Unlock()
	s.logger.Debug("live subscription opened",
		zap.String("id", frame.ID),
		zap.String("query", frame.Query),
	)

	g.Go(func() error {
		s.forward(ctx, frame.ID, sub)
		return nil
	})
}

func (s *session) forward(ctx context.Context, id string, sub *live.Subscription) {
	for update := range sub.Updates() {
		frame := ServerFrame{Type: TypeResult, ID: id, Seq: update.Seq, Data: update.Data}
		if update.Err != nil {
			frame = ServerFrame{Type: TypeError, ID: id, Seq: update.Seq, Error: publicError(update.Err)}
		}
		if !s.send(ctx, frame) {
			return
		}
	}
}

func (s *session) handleUnsubscribe(ctx context.Context, frame ClientFrame) {
	s.mu.Lock()
	sub, ok := s.subs[frame.ID]
	delete(s.subs, frame.ID)
	s.mu.Unlock()

	if ok {
		sub.Close()
	}
	s.send(ctx, ServerFrame{Type: TypeAck, ID: frame.ID})
}

func (s *session) closeSubscriptions() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*live.Subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// publicError hides internal failures from clients.
func publicError(err error) string {
	if errors.Is(err, chat.ErrNotFound) || errors.Is(err, chat.ErrInvalidArgument) {
		return err.Error()
	}
	return "internal error"
}

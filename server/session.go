package server

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alimasry/go-oplog/ot"
	"github.com/alimasry/go-oplog/store"
)

var tracer = otel.Tracer("github.com/alimasry/go-oplog/server")

type opMessage struct {
	client *Client
	docID  string
	ops    []ot.Operation
}

// Session manages collaboration for a single document.
// All operations are serialized through a single goroutine and applied in
// arrival order; they are never transformed against each other.
type Session struct {
	docID   string
	doc     *ot.Document
	version int
	store   store.DocumentStore
	clients map[*Client]bool

	// logged is the stored log length; pending holds applied ops not yet
	// stored. logged+len(pending) == version.
	logged  int
	pending []ot.Operation

	incoming chan opMessage
	join     chan *Client
	leave    chan *Client
	stop     chan struct{}
}

func newSession(docID string, doc *ot.Document, version int, st store.DocumentStore) *Session {
	return &Session{
		docID:    docID,
		doc:      doc,
		version:  version,
		logged:   version,
		store:    st,
		clients:  make(map[*Client]bool),
		incoming: make(chan opMessage, 64),
		join:     make(chan *Client, 16),
		leave:    make(chan *Client, 16),
		stop:     make(chan struct{}),
	}
}

// Run is the session's main loop. It serializes all operations.
func (s *Session) Run() {
	for {
		select {
		case c := <-s.join:
			s.handleJoin(c)
		case c := <-s.leave:
			s.handleLeave(c)
		case om := <-s.incoming:
			s.handleOps(om)
		case <-s.stop:
			return
		}
	}
}

func (s *Session) handleJoin(c *Client) {
	// Checked under c.mu so ReadPump either sees this session and leaves
	// it, or disconnected before the join took effect.
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return
	default:
	}
	c.session = s
	c.mu.Unlock()

	_, rejoin := s.clients[c]
	s.clients[c] = true

	// Send current document state to the joining client.
	c.sendMsg(ServerMessage{
		Type:     MsgDoc,
		DocID:    s.docID,
		Content:  s.doc.Content(),
		Pos:      s.doc.Pos(),
		Revision: s.version,
		Clients:  s.clientInfos(),
	})

	if rejoin {
		return
	}

	// Notify other clients about the new user.
	for other := range s.clients {
		if other != c {
			other.sendMsg(ServerMessage{
				Type:     MsgJoin,
				ClientID: c.ID,
				Name:     c.Name,
				Color:    c.Color,
			})
		}
	}
}

func (s *Session) handleLeave(c *Client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	// The client may already belong to another session.
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()

	// Notify others.
	for other := range s.clients {
		other.sendMsg(ServerMessage{
			Type:     MsgLeave,
			ClientID: c.ID,
		})
	}
}

func (s *Session) handleOps(om opMessage) {
	if om.docID != "" && om.docID != s.docID {
		om.client.sendError("joined to " + s.docID + ", not " + om.docID)
		return
	}

	s.apply(om.ops)

	// Ack the sender.
	om.client.sendMsg(ServerMessage{
		Type:     MsgAck,
		DocID:    s.docID,
		Content:  s.doc.Content(),
		Pos:      s.doc.Pos(),
		Revision: s.version,
	})

	// Broadcast to other clients.
	for c := range s.clients {
		if c != om.client {
			c.sendMsg(ServerMessage{
				Type:     MsgOp,
				DocID:    s.docID,
				Pos:      s.doc.Pos(),
				Revision: s.version,
				Ops:      om.ops,
				ClientID: om.client.ID,
			})
		}
	}
}

// apply transforms the document with ops in order, then persists them.
// Persistence failures are logged and recorded on the span; the ops stay
// queued and are retried with the next batch. The in-memory document stays
// authoritative.
func (s *Session) apply(ops []ot.Operation) {
	ctx, span := tracer.Start(context.Background(), "session.apply", trace.WithAttributes(
		attribute.String("doc.id", s.docID),
		attribute.Int("ops.count", len(ops)),
		attribute.Int("doc.revision", s.version),
	))
	defer span.End()

	for _, op := range ops {
		s.doc.Transform(op)
		s.version++
	}
	s.pending = append(s.pending, ops...)

	if err := s.persist(ctx); err != nil {
		log.Printf("session %s: persist: %v (%d ops queued)", s.docID, err, len(s.pending))
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
	}
	span.SetAttributes(attribute.Int("ops.queued", len(s.pending)))
}

// persist appends queued ops to the stored log in order, and writes the
// content only once the log has caught up with the live version, so the
// stored content is always the replay of the stored log.
func (s *Session) persist(ctx context.Context) error {
	for len(s.pending) > 0 {
		err := s.store.AppendOperation(ctx, s.docID, s.pending[0], s.logged+1)
		if errors.Is(err, store.ErrInvalidVersion) {
			if err = s.realign(ctx); err == nil {
				continue
			}
		}
		if err != nil {
			return fmt.Errorf("append op %d: %w", s.logged+1, err)
		}
		s.pending = s.pending[1:]
		s.logged++
	}
	if err := s.store.UpdateContent(ctx, s.docID, s.doc.Content(), s.version); err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	return nil
}

// realign handles a rejected append by reading the ops the store holds
// past the persisted length. Ops an earlier append stored despite
// reporting an error are dropped from the queue.
func (s *Session) realign(ctx context.Context) error {
	stored, err := s.store.GetOperations(ctx, s.docID, s.logged)
	if err != nil {
		return fmt.Errorf("realign after %d ops: %w", s.logged, err)
	}
	if len(stored) == 0 || len(stored) > len(s.pending) {
		return fmt.Errorf("realign: store has %d ops past %d with %d queued: %w",
			len(stored), s.logged, len(s.pending), store.ErrInvalidVersion)
	}
	for i, op := range stored {
		if op != s.pending[i] {
			return fmt.Errorf("realign: stored op %d is %v, queued %v: %w",
				s.logged+i+1, op, s.pending[i], store.ErrInvalidVersion)
		}
	}
	s.pending = s.pending[len(stored):]
	s.logged += len(stored)
	return nil
}

func (s *Session) clientInfos() []ClientInfo {
	infos := make([]ClientInfo, 0, len(s.clients))
	for c := range s.clients {
		infos = append(infos, c.Info())
	}
	return infos
}

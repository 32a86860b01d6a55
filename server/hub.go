package server

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/alimasry/go-oplog/store"
)

type joinRequest struct {
	client *Client
	docID  string
}

// Hub manages document sessions and routes clients to the right session.
type Hub struct {
	store    store.DocumentStore
	sessions map[string]*Session
	mu       sync.RWMutex

	joinDoc chan joinRequest
	stop    chan struct{}
	once    sync.Once
}

func NewHub(st store.DocumentStore) *Hub {
	return &Hub{
		store:    st,
		sessions: make(map[string]*Session),
		joinDoc:  make(chan joinRequest, 64),
		stop:     make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns after Close.
func (h *Hub) Run() {
	for {
		select {
		case req := <-h.joinDoc:
			h.handleJoinDoc(req)
		case <-h.stop:
			return
		}
	}
}

// Close stops the hub loop and every running session.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.stop)
		h.mu.Lock()
		defer h.mu.Unlock()
		for id, s := range h.sessions {
			close(s.stop)
			delete(h.sessions, id)
		}
	})
}

func (h *Hub) handleJoinDoc(req joinRequest) {
	h.mu.Lock()
	s, ok := h.sessions[req.docID]
	if !ok {
		var err error
		s, err = h.openSession(context.Background(), req.docID)
		if err != nil {
			h.mu.Unlock()
			req.client.sendError("failed to load document")
			return
		}
		h.sessions[req.docID] = s
		go s.Run()
	}
	h.mu.Unlock()

	// A client edits one document at a time; leaving the previous one
	// keeps it out of that session's broadcasts.
	if cur := req.client.currentSession(); cur != nil && cur != s {
		cur.leave <- req.client
	}
	s.join <- req.client
}

// openSession loads a document, creating it empty if it does not exist,
// and rebuilds its cursor by replaying the stored log.
func (h *Hub) openSession(ctx context.Context, docID string) (*Session, error) {
	if _, err := h.store.Get(ctx, docID); errors.Is(err, store.ErrNotFound) {
		if err := h.store.Create(ctx, docID, ""); err != nil && !errors.Is(err, store.ErrExists) {
			log.Printf("hub: failed to create doc %q: %v", docID, err)
			return nil, err
		}
	} else if err != nil {
		log.Printf("hub: failed to get doc %q: %v", docID, err)
		return nil, err
	}

	ops, err := h.store.GetOperations(ctx, docID, 0)
	if err != nil {
		log.Printf("hub: failed to load log for doc %q: %v", docID, err)
		return nil, err
	}
	doc, err := store.Replay(ctx, h.store, docID)
	if err != nil {
		log.Printf("hub: failed to replay doc %q: %v", docID, err)
		return nil, err
	}
	return newSession(docID, doc, len(ops), h.store), nil
}

// GetSession returns the session for a document, if active.
func (h *Hub) GetSession(docID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[docID]
}

func (h *Hub) Store() store.DocumentStore {
	return h.store
}

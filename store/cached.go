package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/alimasry/go-oplog/ot"
)

// dirtyState tracks what needs flushing for a single document.
type dirtyState struct {
	contentDirty bool // content/version needs writing to backing store
	flushedOps   int  // number of ops already flushed (index into history)
	created      bool // doc created locally but not yet in backing store
}

// CachedStore wraps a backing DocumentStore with an in-memory cache.
// All reads and writes are served from the cache. Dirty documents are
// flushed to the backing store periodically in the background.
type CachedStore struct {
	cache         *MemoryStore
	backing       DocumentStore
	mu            sync.Mutex
	dirty         map[string]*dirtyState
	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// NewCachedStore creates a CachedStore that caches in memory and flushes
// dirty documents to the backing store every flushInterval.
func NewCachedStore(backing DocumentStore, flushInterval time.Duration) *CachedStore {
	cs := &CachedStore{
		cache:         NewMemoryStore(),
		backing:       backing,
		dirty:         make(map[string]*dirtyState),
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go cs.flushLoop()
	return cs
}

func (cs *CachedStore) Create(ctx context.Context, id, base string) error {
	if _, err := cs.backing.Get(ctx, id); err == nil {
		return fmt.Errorf("document %q: %w", id, ErrExists)
	}
	if err := cs.cache.Create(ctx, id, base); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.dirty[id] = &dirtyState{contentDirty: true, created: true}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	info, err := cs.cache.Get(ctx, id)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	// Cache miss, load from backing store.
	if err := cs.loadFromBacking(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.Get(ctx, id)
}

// List returns the backing store's documents merged with any that exist
// only in the cache so far.
func (cs *CachedStore) List(ctx context.Context) ([]DocumentInfo, error) {
	backed, err := cs.backing.List(ctx)
	if err != nil {
		return nil, err
	}
	cached, _ := cs.cache.List(ctx)
	byID := make(map[string]int, len(backed))
	for i, info := range backed {
		byID[info.ID] = i
	}
	for _, info := range cached {
		if i, ok := byID[info.ID]; ok {
			backed[i] = info
			continue
		}
		backed = append(backed, info)
	}
	return backed, nil
}

func (cs *CachedStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}
	if err := cs.cache.UpdateContent(ctx, id, content, version); err != nil {
		return err
	}
	cs.mu.Lock()
	ds := cs.dirty[id]
	if ds == nil {
		ds = &dirtyState{flushedOps: cs.historyLen(id)}
		cs.dirty[id] = ds
	}
	ds.contentDirty = true
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}

	// Snapshot history length before append so we know how many ops were
	// already flushed if this doc was previously clean (removed from dirty map).
	prevLen := cs.historyLen(id)

	if err := cs.cache.AppendOperation(ctx, id, op, version); err != nil {
		return err
	}
	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{flushedOps: prevLen}
	}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.GetOperations(ctx, id, fromVersion)
}

func (cs *CachedStore) historyLen(id string) int {
	cs.cache.mu.RLock()
	defer cs.cache.mu.RUnlock()
	if rec, ok := cs.cache.docs[id]; ok {
		return len(rec.history)
	}
	return 0
}

func (cs *CachedStore) cachedVersion(id string) int {
	cs.cache.mu.RLock()
	defer cs.cache.mu.RUnlock()
	if rec, ok := cs.cache.docs[id]; ok {
		return rec.info.Version
	}
	return -1
}

// loadFromBacking loads a document and its operations from the backing store
// into the cache. It sets flushedOps so that already-persisted ops are not
// re-flushed.
func (cs *CachedStore) loadFromBacking(ctx context.Context, id string) error {
	info, err := cs.backing.Get(ctx, id)
	if err != nil {
		return err
	}
	ops, err := cs.backing.GetOperations(ctx, id, 0)
	if err != nil {
		return err
	}

	// Write directly into cache's internal map.
	cs.cache.mu.Lock()
	if _, exists := cs.cache.docs[id]; !exists {
		cs.cache.docs[id] = &docRecord{
			info:    *info,
			history: ops,
		}
	}
	cs.cache.mu.Unlock()

	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{flushedOps: len(ops)}
	}
	cs.mu.Unlock()

	return nil
}

func (cs *CachedStore) flushLoop() {
	ticker := time.NewTicker(cs.flushInterval)
	defer ticker.Stop()
	defer close(cs.done)

	for {
		select {
		case <-ticker.C:
			cs.Flush(context.Background())
		case <-cs.stop:
			cs.Flush(context.Background())
			return
		}
	}
}

// Flush writes all dirty documents to the backing store. Failed writes
// are logged and retried on the next flush.
func (cs *CachedStore) Flush(ctx context.Context) {
	cs.mu.Lock()
	// Snapshot the dirty map and work on a copy.
	snapshot := make(map[string]*dirtyState, len(cs.dirty))
	for id, ds := range cs.dirty {
		cp := *ds
		snapshot[id] = &cp
	}
	cs.mu.Unlock()

	for id, ds := range snapshot {
		cs.flushDoc(ctx, id, ds)
	}
}

func (cs *CachedStore) flushDoc(ctx context.Context, id string, ds *dirtyState) {
	// Read current state from cache.
	cs.cache.mu.RLock()
	rec, ok := cs.cache.docs[id]
	if !ok {
		cs.cache.mu.RUnlock()
		return
	}
	info := rec.info
	totalOps := len(rec.history)
	var newOps []ot.Operation
	if ds.flushedOps < totalOps {
		newOps = make([]ot.Operation, totalOps-ds.flushedOps)
		copy(newOps, rec.history[ds.flushedOps:])
	}
	cs.cache.mu.RUnlock()

	// 1. Create doc in backing store if needed.
	if ds.created {
		if err := cs.backing.Create(ctx, id, info.Base); err != nil && !errors.Is(err, ErrExists) {
			log.Printf("cached store: failed to create doc %q in backing store: %v", id, err)
			return
		}
		ds.created = false
	}

	// 2. Flush new ops before content, so a crash leaves a replayable log.
	for i, op := range newOps {
		version := ds.flushedOps + 1
		if err := cs.backing.AppendOperation(ctx, id, op, version); err != nil {
			log.Printf("cached store: failed to flush op %d of %d for doc %q: %v", i+1, len(newOps), id, err)
			break
		}
		ds.flushedOps++
	}

	// 3. Flush content if dirty.
	if ds.contentDirty {
		if err := cs.backing.UpdateContent(ctx, id, info.Content, info.Version); err != nil {
			log.Printf("cached store: failed to flush content for doc %q: %v", id, err)
		} else {
			ds.contentDirty = false
		}
	}

	// Update the authoritative dirty state.
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cur := cs.dirty[id]
	if cur == nil {
		return
	}
	cur.flushedOps = ds.flushedOps
	cur.created = ds.created
	// Only clear contentDirty if no new writes happened since the snapshot.
	if !ds.contentDirty && cs.cachedVersion(id) == info.Version {
		cur.contentDirty = false
	}
	if !cur.contentDirty && !cur.created && cur.flushedOps >= cs.historyLen(id) {
		delete(cs.dirty, id)
	}
}

// Close signals the flush loop to perform a final flush and waits for it
// to complete.
func (cs *CachedStore) Close() {
	cs.closeOnce.Do(func() { close(cs.stop) })
	<-cs.done
}

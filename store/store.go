package store

import (
	"context"
	"errors"
	"time"

	"github.com/alimasry/go-oplog/ot"
)

var (
	ErrNotFound       = errors.New("document not found")
	ErrExists         = errors.New("document already exists")
	ErrInvalidVersion = errors.New("invalid version")
)

// DocumentInfo holds document metadata and content.
// Base is the text the operation log starts from; Content is the text
// after the last persisted operation.
type DocumentInfo struct {
	ID        string
	Base      string
	Content   string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentStore abstracts persistence of documents and their operation logs.
// Implementations: MemoryStore, CachedStore, FirestoreStore, SQLiteStore.
type DocumentStore interface {
	Create(ctx context.Context, id, base string) error
	Get(ctx context.Context, id string) (*DocumentInfo, error)
	List(ctx context.Context) ([]DocumentInfo, error)
	UpdateContent(ctx context.Context, id, content string, version int) error
	AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error
	GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alimasry/go-oplog/ot"
)

// firestoreDoc is the stored shape of documents/{id}.
type firestoreDoc struct {
	Base      string    `firestore:"base"`
	Content   string    `firestore:"content"`
	Version   int       `firestore:"version"`
	OpCount   int       `firestore:"opCount"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// firestoreOp is the stored shape of documents/{id}/operations/{index}.
// Fields mirror the JSON wire form of an operation.
type firestoreOp struct {
	Op      string `firestore:"op"`
	Count   int    `firestore:"count"`
	Chars   string `firestore:"chars"`
	Version int    `firestore:"version"`
}

// FirestoreStore is a Firestore-backed implementation of DocumentStore.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a new FirestoreStore using the given Firestore client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{
		client:     client,
		collection: "documents",
	}
}

func (s *FirestoreStore) docRef(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) opsCollection(docID string) *firestore.CollectionRef {
	return s.docRef(docID).Collection("operations")
}

func zeroPad(index int) string {
	return fmt.Sprintf("%010d", index)
}

func (s *FirestoreStore) Create(ctx context.Context, id, base string) error {
	now := time.Now()
	_, err := s.docRef(id).Create(ctx, firestoreDoc{
		Base:      base,
		Content:   base,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("document %q: %w", id, ErrExists)
	}
	return err
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	snap, err := s.docRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return snapshotToDocInfo(snap)
}

func snapshotToDocInfo(snap *firestore.DocumentSnapshot) (*DocumentInfo, error) {
	var d firestoreDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", snap.Ref.ID, err)
	}
	return &DocumentInfo{
		ID:        snap.Ref.ID,
		Base:      d.Base,
		Content:   d.Content,
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

func (s *FirestoreStore) List(ctx context.Context) ([]DocumentInfo, error) {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	var result []DocumentInfo
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		info, err := snapshotToDocInfo(snap)
		if err != nil {
			return nil, err
		}
		result = append(result, *info)
	}
	return result, nil
}

func (s *FirestoreStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	_, err := s.docRef(id).Update(ctx, []firestore.Update{
		{Path: "content", Value: content},
		{Path: "version", Value: version},
		{Path: "updatedAt", Value: time.Now()},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return err
}

// AppendOperation stores op under a 0-based index (version 1 is index 0),
// matching MemoryStore's history slice so GetOperations(fromVersion)
// starts at index fromVersion. The document's opCount is read and bumped
// in the same transaction, so version must be opCount+1 and the log never
// has holes.
func (s *FirestoreStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	docRef := s.docRef(id)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("document %q: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var fd firestoreDoc
		if err := snap.DataTo(&fd); err != nil {
			return err
		}
		if version != fd.OpCount+1 {
			return fmt.Errorf("document %q: append version %d after %d ops: %w", id, version, fd.OpCount, ErrInvalidVersion)
		}

		if err := tx.Create(s.opsCollection(id).Doc(zeroPad(version-1)), firestoreOp{
			Op:      op.Type().String(),
			Count:   op.Count(),
			Chars:   op.Chars(),
			Version: version,
		}); err != nil {
			return err
		}
		return tx.Update(docRef, []firestore.Update{
			{Path: "opCount", Value: version},
			{Path: "version", Value: version},
			{Path: "updatedAt", Value: time.Now()},
		})
	})
}

func (s *FirestoreStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	// Verify document exists.
	_, err := s.docRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if fromVersion < 0 {
		return nil, fmt.Errorf("document %q: version %d: %w", id, fromVersion, ErrInvalidVersion)
	}

	iter := s.opsCollection(id).
		OrderBy(firestore.DocumentID, firestore.Asc).
		StartAt(zeroPad(fromVersion)).
		Documents(ctx)
	defer iter.Stop()

	var ops []ot.Operation
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var rec firestoreOp
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode operation %s: %w", snap.Ref.ID, err)
		}
		ops = append(ops, ot.NewOperation(rec.Op, rec.Count, rec.Chars))
	}
	return ops, nil
}

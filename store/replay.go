package store

import (
	"context"
	"fmt"

	"github.com/alimasry/go-oplog/ot"
)

// Replay rebuilds a document by applying its stored log to its base text.
// The returned document's cursor is where the last operation left it.
func Replay(ctx context.Context, st DocumentStore, id string) (*ot.Document, error) {
	info, err := st.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ops, err := st.GetOperations(ctx, id, 0)
	if err != nil {
		return nil, fmt.Errorf("replay %q: %w", id, err)
	}
	return ot.NewDocument(info.Base).Apply(ops...), nil
}

// VerifyLog reports whether the stored content of a document is what its
// log produces from the base text.
func VerifyLog(ctx context.Context, st DocumentStore, id string) (bool, error) {
	info, err := st.Get(ctx, id)
	if err != nil {
		return false, err
	}
	ops, err := st.GetOperations(ctx, id, 0)
	if err != nil {
		return false, fmt.Errorf("verify %q: %w", id, err)
	}
	return ot.NewVerify(info.Base, info.Content, ops).Execute(), nil
}

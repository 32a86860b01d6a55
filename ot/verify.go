package ot

import "fmt"

// Verify checks that replaying an operation log over a stale document
// reproduces the latest one. A Verify is built for a single check.
type Verify struct {
	stale  *Document
	latest string
	ops    []Operation
}

func NewVerify(stale, latest string, ops []Operation) *Verify {
	return &Verify{
		stale:  NewDocument(stale),
		latest: latest,
		ops:    ops,
	}
}

// NewVerifyJSON is NewVerify with the log given in its JSON wire form.
func NewVerifyJSON(stale, latest string, payload []byte) (*Verify, error) {
	ops, err := DecodeOperations(payload)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	return NewVerify(stale, latest, ops), nil
}

// Replay applies the log, in order, to a copy of the stale document.
func (v *Verify) Replay() *Document {
	return v.stale.Clone().Apply(v.ops...)
}

// Execute reports whether the replayed content is byte-for-byte the
// latest content.
func (v *Verify) Execute() bool {
	return v.Replay().Content() == v.latest
}

func (v *Verify) Latest() string { return v.latest }

package ot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedOperations is returned when an operation payload is not
// valid JSON of the expected shape. Unknown tags and missing fields are
// not malformed; they decode to defaults.
var ErrMalformedOperations = errors.New("malformed operations")

// wireOp is the JSON form of a single operation.
type wireOp struct {
	Op    string `json:"op"`
	Count int    `json:"count,omitempty"`
	Chars string `json:"chars,omitempty"`
}

func (o Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOp{Op: o.typ.String(), Count: o.count, Chars: o.chars})
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = NewOperation(w.Op, w.Count, w.Chars)
	return nil
}

// DecodeOperations parses a JSON array of operations, in order.
func DecodeOperations(data []byte) ([]Operation, error) {
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOperations, err)
	}
	return ops, nil
}

// EncodeOperations serializes ops to their JSON array form.
func EncodeOperations(ops []Operation) ([]byte, error) {
	if ops == nil {
		ops = []Operation{}
	}
	return json.Marshal(ops)
}

package ot

import "fmt"

// OpType identifies which edit an Operation performs.
type OpType int

const (
	Noop OpType = iota
	Insert
	Delete
	Skip
)

func (t OpType) String() string {
	switch t {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Skip:
		return "skip"
	default:
		return "noop"
	}
}

// ParseOpType maps a wire tag to its OpType. Anything unrecognized,
// including the empty string, is a Noop.
func ParseOpType(s string) OpType {
	switch s {
	case "insert":
		return Insert
	case "delete":
		return Delete
	case "skip":
		return Skip
	default:
		return Noop
	}
}

// Operation is a single edit applied at a Document's cursor.
// Operations are values: construct one and compare with ==.
type Operation struct {
	typ   OpType
	count int
	chars string
}

// NewOperation builds an operation from its wire parts. Fields that the
// operation type does not use are dropped.
func NewOperation(op string, count int, chars string) Operation {
	switch t := ParseOpType(op); t {
	case Insert:
		return NewInsert(chars)
	case Delete, Skip:
		return Operation{typ: t, count: count}
	default:
		return NewNoop()
	}
}

// NewInsert creates an operation that inserts chars at the cursor.
func NewInsert(chars string) Operation {
	return Operation{typ: Insert, chars: chars}
}

// NewDelete creates an operation that removes the run between the cursor
// and cursor+count. A negative count deletes backwards.
func NewDelete(count int) Operation {
	return Operation{typ: Delete, count: count}
}

// NewSkip creates an operation that moves the cursor by count.
func NewSkip(count int) Operation {
	return Operation{typ: Skip, count: count}
}

func NewNoop() Operation {
	return Operation{}
}

func (o Operation) Type() OpType  { return o.typ }
func (o Operation) Count() int    { return o.count }
func (o Operation) Chars() string { return o.chars }

func (o Operation) String() string {
	switch o.typ {
	case Insert:
		return fmt.Sprintf("insert(%q)", o.chars)
	case Delete, Skip:
		return fmt.Sprintf("%s(%d)", o.typ, o.count)
	default:
		return "noop"
	}
}

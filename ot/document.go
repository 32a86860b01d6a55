package ot

import "unicode/utf8"

// Document is a text buffer with a cursor. Lengths and positions count
// runes, not bytes. A byte that is not part of valid UTF-8 counts as one
// rune and is kept as-is, so Content returns exactly the bytes it was
// given and inserted.
//
// The zero value is an empty document with the cursor at 0. A Document is
// not safe for concurrent use.
type Document struct {
	content []rune
	pos     int
}

// NewDocument creates a document holding content with the cursor at 0.
func NewDocument(content string) *Document {
	return &Document{content: decodeRunes(content)}
}

func (d *Document) Content() string { return encodeRunes(d.content) }
func (d *Document) Pos() int        { return d.pos }
func (d *Document) Len() int        { return len(d.content) }

// Transform applies op at the cursor and returns d for chaining.
//
// Out-of-range parameters never fail: skips clamp to the buffer and
// deletes whose target falls outside it do nothing.
func (d *Document) Transform(op Operation) *Document {
	switch op.typ {
	case Insert:
		d.insert(op.chars)
	case Delete:
		d.delete(op.count)
	case Skip:
		d.Skip(op.count)
	}
	return d
}

// Apply transforms d by each op in order.
func (d *Document) Apply(ops ...Operation) *Document {
	for _, op := range ops {
		d.Transform(op)
	}
	return d
}

// Skip moves the cursor by count, clamped to [0, Len()].
func (d *Document) Skip(count int) *Document {
	n := len(d.content)
	switch {
	case count > n-d.pos:
		d.pos = n
	case count < -d.pos:
		d.pos = 0
	default:
		d.pos += count
	}
	return d
}

func (d *Document) insert(chars string) {
	if chars == "" {
		return
	}
	ins := decodeRunes(chars)
	out := make([]rune, 0, len(d.content)+len(ins))
	out = append(out, d.content[:d.pos]...)
	out = append(out, ins...)
	out = append(out, d.content[d.pos:]...)
	d.content = out
	d.pos += len(ins)
}

// delete removes the runes between the cursor and cursor+count. The
// cursor stays put unless a backward delete leaves it past the end.
func (d *Document) delete(count int) {
	n := len(d.content)
	if count > n-d.pos || count < -d.pos {
		return
	}
	from, to := d.pos, d.pos+count
	if count < 0 {
		from, to = to, from
	}
	if from == to {
		return
	}
	d.content = append(d.content[:from:from], d.content[to:]...)
	if d.pos > len(d.content) {
		d.pos = len(d.content)
	}
}

// Clone returns an independent copy of d, cursor included.
func (d *Document) Clone() *Document {
	c := make([]rune, len(d.content))
	copy(c, d.content)
	return &Document{content: c, pos: d.pos}
}

// Equal reports whether d and other hold byte-identical content. Cursor
// positions are ignored.
func (d *Document) Equal(other *Document) bool {
	return d.Content() == other.Content()
}

// Invalid bytes are carried through the rune buffer as lone low
// surrogates U+DC80..U+DCFF. Decoding valid UTF-8 never yields a
// surrogate, so the mapping is reversible.
const escapeBase = 0xDC00

func decodeRunes(s string) []rune {
	out := make([]rune, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			r = escapeBase + rune(s[i])
		}
		out = append(out, r)
		i += size
	}
	return out
}

func encodeRunes(rs []rune) string {
	buf := make([]byte, 0, len(rs))
	for _, r := range rs {
		if r >= escapeBase+0x80 && r <= escapeBase+0xFF {
			buf = append(buf, byte(r-escapeBase))
			continue
		}
		buf = utf8.AppendRune(buf, r)
	}
	return string(buf)
}

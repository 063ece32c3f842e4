package configtree

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/c360/confsync/errors"
)

// MarshalJSON implements json.Marshaler, emitting keys in insertion order.
// encoding/json would sort map keys; the tree's document order is the
// serialization contract, so the object is written by hand.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range n.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(n.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving document key order.
func (n *Node) UnmarshalJSON(data []byte) error {
	parsed, err := ParseNode(data)
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

// MarshalJSON implements json.Marshaler for the whole tree.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return t.root.MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler for the whole tree.
func (t *Tree) UnmarshalJSON(data []byte) error {
	root := NewNode()
	if err := root.UnmarshalJSON(data); err != nil {
		return err
	}
	t.root = root
	return nil
}

// DecodeError reports where in the input a parse failed. Offset is the byte
// offset into the document; callers that know the source translate it to a
// line number.
type DecodeError struct {
	Offset int64
	Err    error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("offset %d: %v", e.Offset, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ParseNode parses a JSON document into a Node, preserving key order. The
// document must be a single JSON object; numbers decode to float64. Failures
// are reported as *DecodeError with the byte offset of the problem.
func ParseNode(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, decodeFailure(dec, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, decodeFailure(dec, fmt.Errorf("document is not a JSON object: %w", errors.ErrParsingFailed))
	}

	node, err := decodeObject(dec)
	if err != nil {
		return nil, err
	}

	// Anything after the closing brace is trailing garbage.
	if _, err := dec.Token(); err != io.EOF {
		return nil, decodeFailure(dec, fmt.Errorf("trailing data after document: %w", errors.ErrParsingFailed))
	}
	return node, nil
}

// decodeObject consumes object members up to and including the closing
// brace. The opening brace has already been consumed.
func decodeObject(dec *json.Decoder) (*Node, error) {
	n := NewNode()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, decodeFailure(dec, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, decodeFailure(dec, fmt.Errorf("object key is not a string: %w", errors.ErrParsingFailed))
		}
		if err := validateKey(key); err != nil {
			return nil, decodeFailure(dec, err)
		}
		if n.Has(key) {
			return nil, decodeFailure(dec, fmt.Errorf("duplicate key %q: %w", key, errors.ErrParsingFailed))
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		n.setValue(key, value)
	}
	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, decodeFailure(dec, err)
	}
	return n, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, decodeFailure(dec, err)
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, decodeFailure(dec, fmt.Errorf("unexpected delimiter %q: %w", v.String(), errors.ErrParsingFailed))
		}
	case string, float64, bool, nil:
		return v, nil
	default:
		return nil, decodeFailure(dec, fmt.Errorf("unexpected token %v: %w", tok, errors.ErrParsingFailed))
	}
}

// decodeArray consumes array elements up to and including the closing
// bracket. Objects inside arrays decode to nodes so document order survives
// round-trips, but the array itself stays an opaque leaf.
func decodeArray(dec *json.Decoder) ([]any, error) {
	out := []any{}
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, decodeFailure(dec, err)
	}
	return out, nil
}

// decodeFailure attaches the current input offset to a decoder error.
// json.SyntaxError already carries the authoritative offset; everything
// else uses the decoder's position.
func decodeFailure(dec *json.Decoder, err error) error {
	var de *DecodeError
	if stderrors.As(err, &de) {
		return err
	}
	offset := dec.InputOffset()
	var syn *json.SyntaxError
	if stderrors.As(err, &syn) {
		offset = syn.Offset
	}
	return &DecodeError{Offset: offset, Err: err}
}

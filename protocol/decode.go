package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrIncomplete signals that the buffer ends in the middle of a frame. It is
// a retry signal, not a failure: the caller should read more bytes, append
// them, and call Decode again from the same offset.
var ErrIncomplete = errors.New("incomplete RESP frame")

// MalformedError reports a frame that can never become valid no matter how
// many bytes are appended. Frame alignment is unrecoverable after it, so
// callers close the connection.
type MalformedError struct {
	Offset  int
	Message string
}

// Error implements the error interface
func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed RESP frame at offset %d: %s", e.Offset, e.Message)
}

func malformed(offset int, format string, args ...interface{}) error {
	return &MalformedError{Offset: offset, Message: fmt.Sprintf(format, args...)}
}

// Decode parses a single RESP value from the front of buf and reports how
// many bytes it consumed. A frame split across reads yields ErrIncomplete;
// a frame that cannot be completed yields *MalformedError.
func Decode(buf []byte) (Value, int, error) {
	return decodeAt(buf, 0)
}

func decodeAt(buf []byte, pos int) (Value, int, error) {
	if pos >= len(buf) {
		return Value{}, pos, ErrIncomplete
	}

	typeByte := ValueType(buf[pos])
	switch typeByte {
	case TypeSimpleString, TypeError:
		line, next, err := decodeLine(buf, pos+1)
		if err != nil {
			return Value{}, pos, err
		}
		return Value{Type: typeByte, Data: line}, next, nil

	case TypeInteger:
		line, next, err := decodeLine(buf, pos+1)
		if err != nil {
			return Value{}, pos, err
		}
		n, err := parseInt64(line)
		if err != nil {
			return Value{}, pos, malformed(pos, "invalid integer: %q", line)
		}
		return Value{Type: TypeInteger, Integer: n}, next, nil

	case TypeBulkString:
		return decodeBulkAt(buf, pos)

	case TypeArray, TypeSet, TypePush:
		return decodeAggregateAt(buf, pos, typeByte, 1)

	case TypeMap:
		return decodeAggregateAt(buf, pos, typeByte, 2)

	default:
		return Value{}, pos, malformed(pos, "unknown type byte %c (0x%02x)", buf[pos], buf[pos])
	}
}

// decodeLine reads a CRLF-terminated line starting at pos and returns its
// contents plus the position just past the terminator.
func decodeLine(buf []byte, pos int) ([]byte, int, error) {
	idx := bytes.IndexByte(buf[pos:], '\r')
	if idx < 0 {
		// An embedded LF before any CR can never become a valid terminator.
		if bytes.IndexByte(buf[pos:], '\n') >= 0 {
			return nil, pos, malformed(pos, "bare LF in line")
		}
		return nil, pos, ErrIncomplete
	}
	end := pos + idx
	if end+1 >= len(buf) {
		return nil, pos, ErrIncomplete
	}
	if buf[end+1] != '\n' {
		return nil, pos, malformed(end, "CR not followed by LF")
	}
	line := make([]byte, idx)
	copy(line, buf[pos:end])
	return line, end + 2, nil
}

func decodeBulkAt(buf []byte, pos int) (Value, int, error) {
	line, next, err := decodeLine(buf, pos+1)
	if err != nil {
		return Value{}, pos, err
	}

	length, err := parseInt64(line)
	if err != nil {
		return Value{}, pos, malformed(pos, "invalid bulk string length: %q", line)
	}
	if length == -1 {
		return Value{Type: TypeBulkString, IsNull: true}, next, nil
	}
	if length < 0 || length > maxBulkSize {
		return Value{}, pos, malformed(pos, "invalid bulk string length: %d", length)
	}

	// Payload boundaries come from the length prefix; the payload may contain
	// any byte value, including CRLF.
	end := next + int(length)
	if end+2 > len(buf) {
		return Value{}, pos, ErrIncomplete
	}
	if buf[end] != '\r' || buf[end+1] != '\n' {
		return Value{}, pos, malformed(end, "bulk string payload not terminated by CRLF")
	}

	data := make([]byte, length)
	copy(data, buf[next:end])
	return Value{Type: TypeBulkString, Data: data}, end + 2, nil
}

func decodeAggregateAt(buf []byte, pos int, typ ValueType, elemsPerEntry int64) (Value, int, error) {
	line, next, err := decodeLine(buf, pos+1)
	if err != nil {
		return Value{}, pos, err
	}

	count, err := parseInt64(line)
	if err != nil {
		return Value{}, pos, malformed(pos, "invalid %c count: %q", typ, line)
	}
	if count == -1 && typ == TypeArray {
		return Value{Type: TypeArray, IsNull: true}, next, nil
	}
	if count < 0 || count > maxArraySize {
		return Value{}, pos, malformed(pos, "invalid %c count: %d", typ, count)
	}

	total := count * elemsPerEntry
	elems := make([]Value, 0, total)
	cursor := next
	for i := int64(0); i < total; i++ {
		elem, nextCursor, err := decodeAt(buf, cursor)
		if err != nil {
			return Value{}, pos, err
		}
		elems = append(elems, elem)
		cursor = nextCursor
	}

	return Value{Type: typ, Array: elems}, cursor, nil
}

// Encode serializes a value into its wire representation. It is total for
// every representable value and is the exact inverse of Decode.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	// Writes to a bytes.Buffer cannot fail.
	_ = w.WriteValue(v)
	_ = w.Flush()
	return buf.Bytes()
}

// EncodedLen returns the wire length of a value without retaining the bytes.
// Replication offsets advance by this amount per propagated frame.
func EncodedLen(v Value) int64 {
	return int64(len(Encode(v)))
}

package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (1GB)
	maxBulkSize = 1024 * 1024 * 1024

	// maxArraySize is the maximum size for aggregates
	maxArraySize = 1024 * 1024
)

var crlfBytes = []byte(CRLF)

// Reader is a streaming RESP protocol reader. It parses frames directly from
// an io.Reader and blocks for more bytes instead of reporting ErrIncomplete;
// the buffer-based Decode covers the non-blocking path.
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch ValueType(typeByte) {
	case TypeSimpleString, TypeError:
		line, err := r.readLine()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: ValueType(typeByte), Data: line}, nil
	case TypeInteger:
		return r.readInteger()
	case TypeBulkString:
		return r.readBulkString()
	case TypeArray:
		return r.readAggregate(TypeArray, 1)
	case TypeSet:
		return r.readAggregate(TypeSet, 1)
	case TypePush:
		return r.readAggregate(TypePush, 1)
	case TypeMap:
		return r.readAggregate(TypeMap, 2)
	default:
		if typeByte == 0 {
			return Value{}, fmt.Errorf("unknown RESP type: empty byte (connection may be closed)")
		}
		return Value{}, fmt.Errorf("unknown RESP type: %c (0x%02x)", typeByte, typeByte)
	}
}

// readInteger reads an integer value
func (r *Reader) readInteger() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	integer, err := parseInt64(line)
	if err != nil {
		return Value{}, fmt.Errorf("invalid integer: %s", line)
	}

	return Value{Type: TypeInteger, Integer: integer}, nil
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var neg bool
	var i int

	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	default:
		i = 0
	}

	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	var n int64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, strconv.ErrSyntax
		}

		// Check for overflow
		if n > (1<<63-1)/10 {
			return 0, strconv.ErrRange
		}

		n = n*10 + int64(b[i]-'0')
	}

	if neg {
		return -n, nil
	}
	return n, nil
}

// readBulkString reads a bulk string value
func (r *Reader) readBulkString() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	length, err := parseInt64(line)
	if err != nil {
		return Value{}, fmt.Errorf("invalid bulk string length: %s", line)
	}

	// Handle null bulk string
	if length == -1 {
		return Value{Type: TypeBulkString, IsNull: true}, nil
	}

	if length < 0 || length > maxBulkSize {
		return Value{}, fmt.Errorf("invalid bulk string length: %d", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return Value{}, err
	}

	if err := r.expectCRLF(); err != nil {
		return Value{}, err
	}

	return Value{Type: TypeBulkString, Data: data}, nil
}

// readAggregate reads an array-shaped value. Maps count pairs, so they read
// two elements per counted entry.
func (r *Reader) readAggregate(typ ValueType, elemsPerEntry int64) (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	count, err := parseInt64(line)
	if err != nil {
		return Value{}, fmt.Errorf("invalid %c count: %s", typ, line)
	}

	if count == -1 && typ == TypeArray {
		return Value{Type: TypeArray, IsNull: true}, nil
	}

	if count < 0 || count > maxArraySize {
		return Value{}, fmt.Errorf("invalid %c count: %d", typ, count)
	}

	total := count * elemsPerEntry
	elems := make([]Value, total)
	for i := int64(0); i < total; i++ {
		value, err := r.ReadNext()
		if err != nil {
			return Value{}, err
		}
		elems[i] = value
	}

	return Value{Type: typ, Array: elems}, nil
}

// ReadSnapshot reads an RDB snapshot payload as sent by a master after
// FULLRESYNC: a bulk-string frame without the trailing CRLF. The payload is
// delivered to fn in chunks.
func (r *Reader) ReadSnapshot(fn func(chunk []byte) error) error {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return err
	}

	if ValueType(typeByte) != TypeBulkString {
		return fmt.Errorf("expected bulk string, got %c", typeByte)
	}

	line, err := r.readLine()
	if err != nil {
		return err
	}

	length, err := parseInt64(line)
	if err != nil {
		return fmt.Errorf("invalid snapshot length: %s", line)
	}

	if length == -1 {
		return fn(nil)
	}

	if length < 0 || length > maxBulkSize {
		return fmt.Errorf("invalid snapshot length: %d", length)
	}

	const chunkSize = 8192
	buffer := make([]byte, chunkSize)
	remaining := length

	for remaining > 0 {
		toRead := chunkSize
		if remaining < int64(chunkSize) {
			toRead = int(remaining)
		}

		n, err := io.ReadFull(r.br, buffer[:toRead])
		if err != nil {
			return err
		}

		if err := fn(buffer[:n]); err != nil {
			return err
		}

		remaining -= int64(n)
	}

	// No CRLF after the snapshot payload.
	return nil
}

// readLine reads a line terminated by CRLF
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read line: %w", err)
	}

	if len(line) < 2 || !bytes.HasSuffix(line, crlfBytes) {
		return nil, fmt.Errorf("missing CRLF terminator")
	}

	return line[:len(line)-2], nil
}

// expectCRLF reads and validates CRLF terminator
func (r *Reader) expectCRLF() error {
	crlf := make([]byte, 2)
	n, err := io.ReadFull(r.br, crlf)
	if err != nil {
		return fmt.Errorf("failed to read CRLF terminator (read %d/2 bytes): %w", n, err)
	}

	if !bytes.Equal(crlf, crlfBytes) {
		return fmt.Errorf("expected CRLF terminator [13, 10], got [%d, %d]", crlf[0], crlf[1])
	}

	return nil
}

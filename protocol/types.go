package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP2 value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'

	// RESP3 aggregate types
	TypeMap  ValueType = '%'
	TypeSet  ValueType = '~'
	TypePush ValueType = '>'
)

// Value represents a parsed RESP value.
//
// Aggregate types reuse the Array field: maps store their entries as a
// flattened, ordered key/value sequence (len(Array) is always even), sets and
// pushes store their members in wire order. Null bulk strings and null arrays
// are distinct from empty ones and are flagged via IsNull.
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Array   []Value
	IsNull  bool
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString:
		return string(v.Data)
	case TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray, TypeSet, TypePush:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeMap:
		parts := make([]string, 0, len(v.Array)/2)
		for i := 0; i+1 < len(v.Array); i += 2 {
			parts = append(parts, v.Array[i].String()+": "+v.Array[i+1].String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// Bytes returns the byte representation of the value
func (v Value) Bytes() []byte {
	return v.Data
}

// Int returns the integer value, or 0 if not an integer
func (v Value) Int() int64 {
	return v.Integer
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// Error returns the error message if this is an error value
func (v Value) Error() string {
	if v.Type == TypeError {
		return string(v.Data)
	}
	return ""
}

// Equal reports whether two values are identical in type and content.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type || v.IsNull != other.IsNull || v.Integer != other.Integer {
		return false
	}
	if string(v.Data) != string(other.Data) {
		return false
	}
	if len(v.Array) != len(other.Array) {
		return false
	}
	for i := range v.Array {
		if !v.Array[i].Equal(other.Array[i]) {
			return false
		}
	}
	return true
}

// Command represents a Redis command parsed from a RESP array
type Command struct {
	Name string
	Args [][]byte
}

// ParseCommand parses a RESP array value into a Command
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || len(v.Array) == 0 {
		return nil, fmt.Errorf("invalid command format")
	}

	cmd := &Command{
		Args: make([][]byte, len(v.Array)-1),
	}

	// First element is the command name
	if v.Array[0].Type != TypeBulkString {
		return nil, fmt.Errorf("command name must be bulk string")
	}
	cmd.Name = strings.ToUpper(string(v.Array[0].Data))

	// Remaining elements are arguments
	for i := 1; i < len(v.Array); i++ {
		if v.Array[i].Type != TypeBulkString {
			return nil, fmt.Errorf("command arguments must be bulk strings")
		}
		cmd.Args[i-1] = v.Array[i].Data
	}

	return cmd, nil
}

// Value converts the command back into its RESP array representation.
// Encoding this value reproduces the exact frame a client would send,
// which is what masters forward to replica streams.
func (c *Command) Value() Value {
	elems := make([]Value, 0, 1+len(c.Args))
	elems = append(elems, Value{Type: TypeBulkString, Data: []byte(c.Name)})
	for _, arg := range c.Args {
		elems = append(elems, Value{Type: TypeBulkString, Data: arg})
	}
	return Value{Type: TypeArray, Array: elems}
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return c.Name + " " + strings.Join(args, " ")
}

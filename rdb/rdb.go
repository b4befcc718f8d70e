package rdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Format constants, per the RDB file format specification
// (https://rdb.fnordig.de/file_format.html).
const (
	magic   = "REDIS"
	version = "0009"

	opcodeAux          = 0xFA
	opcodeResizeDB     = 0xFB
	opcodeExpireTimeMS = 0xFC
	opcodeExpireTime   = 0xFD
	opcodeSelectDB     = 0xFE
	opcodeEOF          = 0xFF

	typeString = 0

	// Length-encoding prefixes (top two bits of the first byte)
	len6Bit  = 0x00
	len14Bit = 0x01
	len32Bit = 0x02
	lenEnc   = 0x03

	// Special string encodings under the lenEnc prefix
	encInt8  = 0
	encInt16 = 1
	encInt32 = 2
)

// ErrTruncated reports a snapshot that ends before its EOF marker. The
// parser never returns a partial keyspace for such input.
var ErrTruncated = errors.New("rdb: truncated snapshot")

// CorruptError reports a snapshot whose bytes cannot be a valid RDB file.
type CorruptError struct {
	Offset  int
	Message string
}

// Error implements the error interface
func (e *CorruptError) Error() string {
	return fmt.Sprintf("rdb: corrupt snapshot at offset %d: %s", e.Offset, e.Message)
}

func corrupt(offset int, format string, args ...interface{}) error {
	return &CorruptError{Offset: offset, Message: fmt.Sprintf(format, args...)}
}

// Snapshot is the read view of a keyspace the serializer consumes.
// storage.MemoryStorage satisfies it.
type Snapshot interface {
	KeyCount() int64
	ForEach(fn func(key string, value []byte, expiry *time.Time) error) error
}

// Handler receives entries as Parse walks a snapshot.
type Handler interface {
	// OnAux is called for auxiliary header fields
	OnAux(key, value []byte) error

	// OnKey is called for each key-value pair. expiry is nil for
	// persistent keys.
	OnKey(key, value []byte, expiry *time.Time) error

	// OnEnd is called once the EOF marker and checksum have been verified
	OnEnd() error
}

// Serialize encodes a point-in-time snapshot of the keyspace. Only string
// values exist in this keyspace; per-key expiry is encoded with the
// millisecond-precision opcode when present.
func Serialize(snap Snapshot) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, magic...)
	buf = append(buf, version...)

	buf = appendAux(buf, "redis-ver", "7.4.0")
	buf = appendAux(buf, "redis-bits", "64")

	buf = append(buf, opcodeSelectDB)
	buf = appendLength(buf, 0)

	buf = append(buf, opcodeResizeDB)
	buf = appendLength(buf, uint64(snap.KeyCount()))
	buf = appendLength(buf, 0) // expires hash table size hint

	err := snap.ForEach(func(key string, value []byte, expiry *time.Time) error {
		if expiry != nil {
			buf = append(buf, opcodeExpireTimeMS)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(expiry.UnixMilli()))
		}
		buf = append(buf, typeString)
		buf = appendString(buf, []byte(key))
		buf = appendString(buf, value)
		return nil
	})
	if err != nil {
		return nil, err
	}

	buf = append(buf, opcodeEOF)
	checksum := crc64Update(0, buf)
	buf = binary.LittleEndian.AppendUint64(buf, checksum)

	return buf, nil
}

func appendAux(buf []byte, key, value string) []byte {
	buf = append(buf, opcodeAux)
	buf = appendString(buf, []byte(key))
	return appendString(buf, []byte(value))
}

func appendLength(buf []byte, n uint64) []byte {
	switch {
	case n < 1<<6:
		return append(buf, byte(n))
	case n < 1<<14:
		return append(buf, byte(len14Bit<<6)|byte(n>>8), byte(n))
	default:
		buf = append(buf, len32Bit<<6)
		return binary.BigEndian.AppendUint32(buf, uint32(n))
	}
}

func appendString(buf []byte, s []byte) []byte {
	buf = appendLength(buf, uint64(len(s)))
	return append(buf, s...)
}

// Parse walks a serialized snapshot, delivering entries to the handler.
// Truncation yields ErrTruncated and invalid structure yields *CorruptError;
// in both cases OnEnd is never called, so a handler that loads into storage
// can tell a complete keyspace from a partial one.
func Parse(data []byte, handler Handler) error {
	p := &parser{data: data, handler: handler}
	return p.run()
}

type parser struct {
	data    []byte
	pos     int
	handler Handler
}

func (p *parser) run() error {
	header, err := p.take(9)
	if err != nil {
		return err
	}
	if string(header[:5]) != magic {
		return corrupt(0, "bad magic %q", header[:5])
	}
	ver, err := strconv.Atoi(string(header[5:]))
	if err != nil || ver < 1 {
		return corrupt(5, "bad version %q", header[5:])
	}

	var pendingExpiry *time.Time

	for {
		start := p.pos
		op, err := p.takeByte()
		if err != nil {
			return err
		}

		switch op {
		case opcodeEOF:
			if err := p.verifyChecksum(); err != nil {
				return err
			}
			return p.handler.OnEnd()

		case opcodeAux:
			key, err := p.readString()
			if err != nil {
				return err
			}
			value, err := p.readString()
			if err != nil {
				return err
			}
			if err := p.handler.OnAux(key, value); err != nil {
				return err
			}

		case opcodeSelectDB:
			if _, err := p.readLength(); err != nil {
				return err
			}

		case opcodeResizeDB:
			if _, err := p.readLength(); err != nil {
				return err
			}
			if _, err := p.readLength(); err != nil {
				return err
			}

		case opcodeExpireTimeMS:
			raw, err := p.take(8)
			if err != nil {
				return err
			}
			t := time.UnixMilli(int64(binary.LittleEndian.Uint64(raw)))
			pendingExpiry = &t

		case opcodeExpireTime:
			raw, err := p.take(4)
			if err != nil {
				return err
			}
			t := time.Unix(int64(binary.LittleEndian.Uint32(raw)), 0)
			pendingExpiry = &t

		case typeString:
			key, err := p.readString()
			if err != nil {
				return err
			}
			value, err := p.readString()
			if err != nil {
				return err
			}
			if err := p.handler.OnKey(key, value, pendingExpiry); err != nil {
				return err
			}
			pendingExpiry = nil

		default:
			return corrupt(start, "unsupported opcode 0x%02x", op)
		}
	}
}

func (p *parser) takeByte() (byte, error) {
	if p.pos >= len(p.data) {
		return 0, ErrTruncated
	}
	b := p.data[p.pos]
	p.pos++
	return b, nil
}

func (p *parser) take(n int) ([]byte, error) {
	if p.pos+n > len(p.data) {
		return nil, ErrTruncated
	}
	out := p.data[p.pos : p.pos+n]
	p.pos += n
	return out, nil
}

// readLength decodes an RDB length field. The second return reports a
// special string encoding (lenEnc prefix) rather than a plain length.
func (p *parser) readLength() (uint64, error) {
	n, enc, err := p.readLengthOrEncoding()
	if err != nil {
		return 0, err
	}
	if enc >= 0 {
		return 0, corrupt(p.pos, "unexpected special encoding %d in length field", enc)
	}
	return n, nil
}

func (p *parser) readLengthOrEncoding() (length uint64, encoding int, err error) {
	first, err := p.takeByte()
	if err != nil {
		return 0, -1, err
	}

	switch first >> 6 {
	case len6Bit:
		return uint64(first & 0x3F), -1, nil
	case len14Bit:
		next, err := p.takeByte()
		if err != nil {
			return 0, -1, err
		}
		return uint64(first&0x3F)<<8 | uint64(next), -1, nil
	case len32Bit:
		raw, err := p.take(4)
		if err != nil {
			return 0, -1, err
		}
		return uint64(binary.BigEndian.Uint32(raw)), -1, nil
	default:
		return 0, int(first & 0x3F), nil
	}
}

func (p *parser) readString() ([]byte, error) {
	start := p.pos
	length, encoding, err := p.readLengthOrEncoding()
	if err != nil {
		return nil, err
	}

	if encoding < 0 {
		raw, err := p.take(int(length))
		if err != nil {
			return nil, err
		}
		out := make([]byte, length)
		copy(out, raw)
		return out, nil
	}

	// Integer-encoded strings, all little-endian
	switch encoding {
	case encInt8:
		raw, err := p.take(1)
		if err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, int64(int8(raw[0])), 10), nil
	case encInt16:
		raw, err := p.take(2)
		if err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, int64(int16(binary.LittleEndian.Uint16(raw))), 10), nil
	case encInt32:
		raw, err := p.take(4)
		if err != nil {
			return nil, err
		}
		return strconv.AppendInt(nil, int64(int32(binary.LittleEndian.Uint32(raw))), 10), nil
	default:
		return nil, corrupt(start, "unsupported string encoding %d", encoding)
	}
}

// verifyChecksum checks the 8 trailing CRC64 bytes. An all-zero checksum
// means the writer had checksums disabled and is accepted, as Redis does.
func (p *parser) verifyChecksum() error {
	body := p.data[:p.pos] // includes the EOF opcode
	raw, err := p.take(8)
	if err != nil {
		return err
	}

	stored := binary.LittleEndian.Uint64(raw)
	if stored == 0 {
		return nil
	}
	if computed := crc64Update(0, body); computed != stored {
		return corrupt(p.pos-8, "checksum mismatch: stored %016x, computed %016x", stored, computed)
	}
	return nil
}

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire command and reply codes. Each travels as the first body frame.
const (
	cmdPut = "PUT"
	cmdGet = "GET"

	codeOK    = "OK"
	codeStale = "STALE"
	codeMiss  = "MISS"
	codeError = "ERROR"
)

// TimestampSize is the fixed width in bytes of a timestamp frame.
const TimestampSize = 8

// ErrEmptyMessage reports a request body with no frames at all.
var ErrEmptyMessage = errors.New("empty message")

// ErrBadTimestamp reports a timestamp frame that is not exactly 8 bytes.
var ErrBadTimestamp = errors.New("timestamp must be 8 bytes")

// ErrMalformedReply reports a server reply that does not match the protocol.
var ErrMalformedReply = errors.New("malformed reply")

// RemoteError carries the message of an ERROR reply back to the caller.
type RemoteError string

// Error returns the server-sent message.
func (e RemoteError) Error() string { return string(e) }

// Op identifies a decoded request operation.
type Op byte

const (
	// OpPut stores a value under a key if its timestamp is newer.
	OpPut Op = iota
	// OpGet reads the current record for a key.
	OpGet
)

// String returns the wire command for the operation.
func (o Op) String() string {
	switch o {
	case OpPut:
		return cmdPut
	case OpGet:
		return cmdGet
	}
	return fmt.Sprintf("Op(%d)", byte(o))
}

// Request is a decoded client request body.
// TS and Data are meaningful for OpPut only.
type Request struct {
	Op   Op
	Key  string
	TS   uint64
	Data []byte
}

// Value is a stored record as a GET reply delivers it to clients.
type Value struct {
	TS   uint64
	Data []byte
}

// Timestamp encodes ts in the fixed 8-byte big-endian wire form.
func Timestamp(ts uint64) []byte {
	b := make([]byte, TimestampSize)
	binary.BigEndian.PutUint64(b, ts)
	return b
}

// ParseTimestamp decodes an 8-byte big-endian timestamp frame.
func ParseTimestamp(b []byte) (uint64, error) {
	if len(b) != TimestampSize {
		return 0, ErrBadTimestamp
	}
	return binary.BigEndian.Uint64(b), nil
}

// EncodePut builds the body frames of a PUT request.
func EncodePut(key string, ts uint64, data []byte) [][]byte {
	return [][]byte{[]byte(cmdPut), []byte(key), Timestamp(ts), data}
}

// EncodeGet builds the body frames of a GET request.
func EncodeGet(key string) [][]byte {
	return [][]byte{[]byte(cmdGet), []byte(key)}
}

// DecodeRequest parses a request body into a Request.
// The error text of a failed decode is exactly what the server sends back
// to the client in an ERROR reply.
func DecodeRequest(frames [][]byte) (Request, error) {
	if len(frames) == 0 {
		return Request{}, ErrEmptyMessage
	}
	switch cmd := string(frames[0]); cmd {
	case cmdPut:
		if len(frames) != 4 {
			return Request{}, fmt.Errorf("PUT expects 4 frames, got %d", len(frames))
		}
		ts, err := ParseTimestamp(frames[2])
		if err != nil {
			return Request{}, err
		}
		return Request{Op: OpPut, Key: string(frames[1]), TS: ts, Data: frames[3]}, nil
	case cmdGet:
		if len(frames) != 2 {
			return Request{}, fmt.Errorf("GET expects 2 frames, got %d", len(frames))
		}
		return Request{Op: OpGet, Key: string(frames[1])}, nil
	default:
		return Request{}, fmt.Errorf("unknown command %q", cmd)
	}
}

// EncodeStored is the reply to a PUT that created or replaced the record.
func EncodeStored() [][]byte { return [][]byte{[]byte(codeOK)} }

// EncodeStale is the reply to a PUT rejected by the timestamp rule.
func EncodeStale() [][]byte { return [][]byte{[]byte(codeStale)} }

// EncodeMiss is the reply to a GET for an absent key.
func EncodeMiss() [][]byte { return [][]byte{[]byte(codeMiss)} }

// EncodeValue is the reply to a GET that found a record.
func EncodeValue(ts uint64, data []byte) [][]byte {
	return [][]byte{[]byte(codeOK), Timestamp(ts), data}
}

// EncodeError is the reply to a request the server could not serve.
func EncodeError(msg string) [][]byte {
	return [][]byte{[]byte(codeError), []byte(msg)}
}

// DecodePutReply interprets the server's answer to a PUT.
// stored is false, with a nil error, when the write was rejected as stale.
func DecodePutReply(frames [][]byte) (stored bool, err error) {
	if len(frames) == 0 {
		return false, fmt.Errorf("%w: empty", ErrMalformedReply)
	}
	switch code := string(frames[0]); code {
	case codeOK:
		return true, nil
	case codeStale:
		return false, nil
	case codeError:
		return false, RemoteError(errText(frames))
	default:
		return false, fmt.Errorf("%w: unexpected code %q", ErrMalformedReply, code)
	}
}

// DecodeGetReply interprets the server's answer to a GET.
// A nil Value with a nil error is a miss.
func DecodeGetReply(frames [][]byte) (*Value, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedReply)
	}
	switch code := string(frames[0]); code {
	case codeMiss:
		return nil, nil
	case codeOK:
		if len(frames) != 3 {
			return nil, fmt.Errorf("%w: OK expects 3 frames, got %d", ErrMalformedReply, len(frames))
		}
		ts, err := ParseTimestamp(frames[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
		}
		return &Value{TS: ts, Data: frames[2]}, nil
	case codeError:
		return nil, RemoteError(errText(frames))
	default:
		return nil, fmt.Errorf("%w: unexpected code %q", ErrMalformedReply, code)
	}
}

// errText extracts the message frame of an ERROR reply.
func errText(frames [][]byte) string {
	if len(frames) > 1 {
		return string(frames[1])
	}
	return "unspecified server error"
}

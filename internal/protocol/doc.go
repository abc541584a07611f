// Package protocol defines the ZeroMQ wire format shared by the kvz server,
// the Go client, and every non-Go client that speaks the same frames.
//
// # Overview
//
// A request or reply is a sequence of ZeroMQ message frames. The first body
// frame is always an ASCII command or reply code; the remaining frames carry
// the operands. Keys are raw bytes interpreted as strings, values are opaque
// byte blobs, and timestamps travel as exactly 8 big-endian bytes so that a
// lexicographic comparison of the frame equals a numeric comparison of the
// timestamp.
//
// # Requests
//
//	PUT <key> <ts:8 bytes BE> <value>   store value under key at timestamp ts
//	GET <key>                           read the current record for key
//
// # Replies
//
//	to PUT:  OK                         record created or replaced
//	         STALE                      a record with ts >= the offered ts exists
//	to GET:  OK <ts:8 bytes BE> <value> current record
//	         MISS                       no record under that key
//	to any:  ERROR <message>            request could not be decoded or served
//
// STALE answers only a PUT and MISS only a GET, so a client can sanity-check
// that an answer matches the question it asked even though REQ sockets never
// leave more than one request in flight.
//
// # Decoding Contract
//
// DecodeRequest validates frame counts and the timestamp width and returns an
// error whose text is sent verbatim to the client as the ERROR message, so
// the failure a client sees is the one the server saw.
//
// DecodePutReply and DecodeGetReply are the client-side inverses. They map
// STALE to a false "stored" flag and MISS to a nil *Value, both without an
// error, because neither outcome is exceptional to a caller. ERROR replies
// surface as RemoteError so callers can distinguish a server-reported failure
// from a local transport one with errors.As.
//
// # Encoding Helpers
//
// EncodePut, EncodeGet and the Encode* reply constructors build frame slices
// ready to wrap in a zmq4 message. They never fail; any combination of key,
// timestamp and value bytes is encodable, including empty keys and empty
// values.
//
// # Limitations
//
// The protocol carries no versioning and no authentication. Both ends must
// agree on the frame layout above; a mismatch is reported as an ERROR reply
// or a malformed-reply error rather than negotiated away.
package protocol

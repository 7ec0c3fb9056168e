package proto

import "errors"

// Sentinels for framing failures, wrapped with the underlying cause.
var (
	ErrInvalidMsg   = errors.New("proto: unexpected packet type")
	ErrMsgRead      = errors.New("proto: truncated packet header")
	ErrMsgLength    = errors.New("proto: truncated or oversized payload")
	ErrMsgUnmarshal = errors.New("proto: malformed control message")
)

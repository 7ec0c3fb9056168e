package pipe

import "io"

// Resolution is the outcome of a resolver: a destination, or a reject.
// The zero value is a reject.
type Resolution[T any] struct {
	dest     T
	resolved bool
}

func Resolved[T any](dest T) Resolution[T] {
	return Resolution[T]{dest: dest, resolved: true}
}

func Rejected[T any]() Resolution[T] {
	return Resolution[T]{}
}

// Destination returns the resolved destination, ok is false on reject.
func (r Resolution[T]) Destination() (dest T, ok bool) {
	return r.dest, r.resolved
}

func (r Resolution[T]) IsRejected() bool {
	return !r.resolved
}

// StreamResolver is called exactly once per stream pipe and must not block.
type StreamResolver func() Resolution[io.ReadWriteCloser]

// DatagramResolver is called exactly once per datagram pipe and must not block.
type DatagramResolver func() Resolution[Endpoint]

// ResolveStream adapts a (dest, err) style constructor, an error is a reject.
func ResolveStream(dest io.ReadWriteCloser, err error) Resolution[io.ReadWriteCloser] {
	if err != nil || dest == nil {
		return Rejected[io.ReadWriteCloser]()
	}
	return Resolved(dest)
}

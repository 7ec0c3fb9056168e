package pio

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

// LimitReadWriter throttles both directions of a stream, each with its own bucket.
type LimitReadWriter struct {
	rw       io.ReadWriteCloser
	ctx      context.Context
	rlimiter *rate.Limiter
	wlimiter *rate.Limiter
}

func NewLimitReadWriter(rw io.ReadWriteCloser, limit int) *LimitReadWriter {
	return NewLimitReadWriterContext(context.Background(), rw, limit)
}

// NewLimitReadWriterContext stops waiting for tokens once ctx is done.
func NewLimitReadWriterContext(ctx context.Context, rw io.ReadWriteCloser, limit int) *LimitReadWriter {
	return &LimitReadWriter{
		rw:       rw,
		ctx:      ctx,
		rlimiter: rate.NewLimiter(rate.Limit(limit), limit), // set burst = limit
		wlimiter: rate.NewLimiter(rate.Limit(limit), limit),
	}
}

func writeChunked(p []byte, burst int, do func([]byte) (int, error)) (int, error) {
	if len(p) <= burst {
		return do(p)
	}

	var done int
	for i := 0; i < len(p); i += burst {
		end := i + burst
		if end > len(p) {
			end = len(p)
		}

		n, err := do(p[i:end])
		done += n
		if err != nil {
			return done, err
		}
		if n < end-i {
			return done, io.ErrShortWrite
		}
	}

	return done, nil
}

// Read does a single underlying read of at most one burst, so it returns as
// soon as any data is available instead of waiting to fill p.
func (s *LimitReadWriter) Read(p []byte) (int, error) {
	if burst := s.rlimiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := s.rw.Read(p)
	if n > 0 {
		if werr := s.rlimiter.WaitN(s.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

func (s *LimitReadWriter) Write(p []byte) (int, error) {
	return writeChunked(p, s.wlimiter.Burst(), func(b []byte) (int, error) {
		if err := s.wlimiter.WaitN(s.ctx, len(b)); err != nil {
			return 0, err
		}
		return s.rw.Write(b)
	})
}

// CloseWrite keeps half-close working through the limiter.
func (s *LimitReadWriter) CloseWrite() error {
	if cw, ok := s.rw.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return s.rw.Close()
}

func (s *LimitReadWriter) Close() error {
	return s.rw.Close()
}

// ParseLimit turns "512b", "64kb", "10mb", "1gb" into bytes per second.
func ParseLimit(limit string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(limit))
	if !strings.HasSuffix(s, "b") {
		return 0, fmt.Errorf("invalid speed limit %q, want a size like 64kb", limit)
	}
	s = strings.TrimSuffix(s, "b")

	mul := 1
	switch {
	case strings.HasSuffix(s, "k"):
		mul = 1024
	case strings.HasSuffix(s, "m"):
		mul = 1024 * 1024
	case strings.HasSuffix(s, "g"):
		mul = 1024 * 1024 * 1024
	}
	if mul != 1 {
		s = s[:len(s)-1]
	}

	base, err := strconv.Atoi(s)
	if err != nil || base <= 0 {
		return 0, fmt.Errorf("invalid speed limit %q", limit)
	}

	return base * mul, nil
}

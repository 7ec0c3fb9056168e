package pipe

import (
	"sync"

	"github.com/abcdlsj/tele/internal/logger"
	"github.com/abcdlsj/tele/internal/stats"
	"github.com/google/uuid"
)

const idLen = 8

// Handle is the caller's view of one pipe.
type Handle struct {
	id     string
	kind   string
	state  stateMachine
	stats  *stats.Stats
	opts   Options
	logger *logger.Logger

	// teardown releases the transports, it runs exactly once.
	teardown func()

	mu   sync.Mutex
	err  error
	done chan struct{}
}

func newHandle(kind string, opts Options, st *stats.Stats) *Handle {
	if st == nil {
		st = &stats.Stats{}
	}
	id := uuid.NewString()[:idLen]

	l := opts.Logger
	if l == nil {
		l = logger.New(kind)
	}

	return &Handle{
		id:     id,
		kind:   kind,
		stats:  st,
		opts:   opts,
		logger: l.CloneAdd(id),
		done:   make(chan struct{}),
	}
}

func (h *Handle) ID() string {
	return h.id
}

// Kind is TCP for stream pipes and UDP for datagram pipes.
func (h *Handle) Kind() string {
	return h.kind
}

func (h *Handle) State() State {
	return h.state.load()
}

// Done is closed once the pipe reached Closed, its transports are released
// and OnDestroy has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns ErrRejected for a rejected pipe, the teardown error otherwise.
// It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) Rejected() bool {
	return h.Err() == ErrRejected
}

// Close tears the pipe down with a nil error. It does not wait, use Done
// for that. Safe to call any number of times, from any goroutine,
// including from inside OnDestroy.
func (h *Handle) Close() {
	h.destroy(nil)
}

func (h *Handle) reject(c interface{ Close() error }) {
	if !h.state.transition(StateResolving, StateClosed) {
		return
	}
	if c != nil {
		_ = c.Close()
	}
	h.stats.Reject()
	h.logger.Debugf("Destination rejected, reject count: %d", h.stats.RejectCount())

	h.finish(ErrRejected)
}

func (h *Handle) bridge(teardown func()) bool {
	h.teardown = teardown
	if !h.state.transition(StateResolving, StateBridging) {
		return false
	}
	h.stats.Open()
	return true
}

func (h *Handle) destroy(err error) {
	from, ok := h.state.close()
	if !ok {
		return
	}

	err = normalize(err)
	if from == StateBridging {
		if h.teardown != nil {
			h.teardown()
		}
		h.stats.Release()
	}

	if err != nil {
		h.logger.Warnf("Pipe closed with error: %v", err)
	} else {
		h.logger.Debugf("Pipe closed")
	}

	h.mu.Lock()
	h.err = err
	h.mu.Unlock()

	if from == StateBridging && h.opts.OnDestroy != nil {
		h.opts.OnDestroy(err)
	}
	close(h.done)
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

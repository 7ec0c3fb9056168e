package pipe

import "github.com/abcdlsj/tele/internal/logger"

type Options struct {
	// Debug logs the successful connect to the local destination.
	Debug bool
	// OnDestroy is called at most once, after teardown, with the error that
	// caused it or nil for a clean close. Rejected pipes never call it.
	OnDestroy func(err error)
	// SpeedLimit throttles the local destination of a stream pipe in bytes
	// per second, zero disables it.
	SpeedLimit int
	Logger     *logger.Logger
}

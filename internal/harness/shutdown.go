package harness

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// shutdownGuard holds the run's single exit decision. Once decided, errors
// reported through swallow are logged and dropped so they cannot change it.
type shutdownGuard struct {
	decided atomic.Bool
	code    atomic.Int32
	logger  *zap.Logger
}

func newShutdownGuard(logger *zap.Logger) *shutdownGuard {
	return &shutdownGuard{logger: logger}
}

// decide records code if no decision exists yet. It returns the code in
// force afterwards, which is the first one decided.
func (g *shutdownGuard) decide(code int) int {
	if g.decided.CompareAndSwap(false, true) {
		g.code.Store(int32(code))
		return code
	}
	return int(g.code.Load())
}

func (g *shutdownGuard) isDecided() bool {
	return g.decided.Load()
}

// swallow passes err through before the decision and drops it after.
func (g *shutdownGuard) swallow(op string, err error) error {
	if err == nil {
		return nil
	}
	if g.isDecided() {
		g.logger.Debug("ignoring error during shutdown", zap.String("op", op), zap.Error(err))
		return nil
	}
	return err
}

package pdp

import "github.com/onjsdnjs/identity-admin-sub001/logger"

// Logger is re-exported so embedding applications only import this package.
type Logger = logger.Logger

// WithLogger installs a Logger on the Engine
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

package arbor

// loopOptions holds configuration resolved from a LoopOption slice.
type loopOptions struct {
	logger         Logger
	metricsEnabled bool
}

// LoopOption configures a Loop at construction time.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

type loopOptionFunc func(*loopOptions) error

func (f loopOptionFunc) applyLoop(opts *loopOptions) error { return f(opts) }

// WithLogger sets the Logger the loop writes structured entries
// through (poll/task/server categories). Defaults to a
// NoOpLogger when unset.
func WithLogger(logger Logger) LoopOption {
	return loopOptionFunc(func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	})
}

// WithMetrics enables runtime metrics collection, retrievable via
// Loop.Metrics after construction. Disabled by default: Metrics()
// returns nil until this option is supplied.
func WithMetrics(enabled bool) LoopOption {
	return loopOptionFunc(func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	})
}

// resolveLoopOptions applies every LoopOption to a fresh loopOptions,
// skipping nils so a conditionally-built option slice need not be
// filtered by the caller.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{logger: NoOpLogger{}}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

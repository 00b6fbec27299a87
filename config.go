package eventcore

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
)

// Config holds the compile-time constants §6 lists, made runtime-tunable.
// The zero value is not valid; use DefaultConfig or ConfigFromEnv.
type Config struct {
	// QueueCapacity is the number of events the queue can hold at once
	// (⌊Q/R⌋ in §4.1's terms; this translation sizes the queue directly in
	// events rather than bytes). The underlying ring buffer rounds it up to
	// the next power of two, so a value that is not a power of two yields
	// a queue that holds more events than configured.
	QueueCapacity uint64 `env:"EVENTCORE_QUEUE_CAPACITY" envDefault:"64"`

	// WorkerCount is W, the number of dispatch workers. Zero selects
	// guest-poll-only mode: no workers run, and GetEvent becomes the sole
	// consumer of the queue.
	WorkerCount int `env:"EVENTCORE_WORKER_COUNT" envDefault:"2"`

	// BatchSize is B, the maximum number of events a worker drains per
	// wake.
	BatchSize int `env:"EVENTCORE_BATCH_SIZE" envDefault:"16"`

	// MaxDispatchRetries is the maximum number of guest-call attempts per
	// event, including the first.
	MaxDispatchRetries int `env:"EVENTCORE_MAX_DISPATCH_RETRIES" envDefault:"3"`

	// RetryDelay is the pause between failed dispatch attempts.
	RetryDelay time.Duration `env:"EVENTCORE_RETRY_DELAY" envDefault:"1ms"`

	// GuestStackBytes is S_guest, the stack size requested when creating a
	// module's execution environment.
	GuestStackBytes uint32 `env:"EVENTCORE_GUEST_STACK_BYTES" envDefault:"16384"`

	// Logger receives structured logs for every component. It is not an
	// env-loadable field; ConfigFromEnv leaves it nil and Init substitutes
	// zap.NewNop() when nil.
	Logger *zap.Logger `env:"-"`
}

// DefaultConfig returns the §6 compile-time defaults (Q=1024 bytes at
// R=16 bytes/event => 64 events, W=2, B=16, 3 retries at 1ms, 16KiB guest
// stack).
func DefaultConfig() Config {
	cfg := Config{}
	// An empty environment keeps process variables out, so only the
	// struct-tag defaults apply.
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		// With an empty environment, parsing only fails on malformed struct
		// tags, which is a build error, not a runtime one; defaults above
		// are always well-formed.
		panic(fmt.Sprintf("eventcore: invalid default config: %v", err))
	}
	return cfg
}

// ConfigFromEnv loads Config from the process environment via
// github.com/caarlos0/env, falling back to the struct-tag defaults for any
// unset variable.
func ConfigFromEnv() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("eventcore: parse config from env: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.QueueCapacity == 0 {
		return fmt.Errorf("queue capacity must be > 0: %w", ErrInvalid)
	}
	if c.WorkerCount < 0 {
		return fmt.Errorf("worker count must be >= 0: %w", ErrInvalid)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0: %w", ErrInvalid)
	}
	if c.MaxDispatchRetries <= 0 {
		return fmt.Errorf("max dispatch retries must be > 0: %w", ErrInvalid)
	}
	return nil
}

package mdns

import (
	"time"

	"github.com/kdanielm/mdnsd/internal/statemachine"
	"github.com/kdanielm/mdnsd/internal/transport"
	"go.uber.org/zap"
)

// Defaults for options left unset, per spec.md §6.
const (
	defaultMaxServices         = 0 // 0 means unbounded
	defaultMaxInterfaces       = 0
	defaultActionQueueDepth    = 256
	defaultTimerTick           = 100 * time.Millisecond
	defaultNameBufLen          = 256
	defaultWatcherPollInterval = 5 * time.Second
)

// config holds every tunable spec.md §6 names, following the teacher's
// serverOpts/applyServerOpts pattern generalized to the full responder.
type config struct {
	maxServices           int
	maxInterfaces         int
	actionQueueDepth      int
	timerTick             time.Duration
	respondReverseQueries bool
	suppressOwnQueries    bool
	nameBufLen            int

	hostname     string
	instanceName string

	logger *zap.Logger

	// Collaborator overrides, unexported: production callers never need
	// these, but they let the test suite substitute fakes for the socket,
	// the interface watcher, the clock and the jitter source without an
	// exported seam that would invite misuse in production code.
	socket  transport.Socket
	watcher transport.InterfaceWatcher
	clock   transport.Clock
	rand    statemachine.Rand
}

func defaultConfig() config {
	return config{
		maxServices:      defaultMaxServices,
		maxInterfaces:    defaultMaxInterfaces,
		actionQueueDepth: defaultActionQueueDepth,
		timerTick:        defaultTimerTick,
		nameBufLen:       defaultNameBufLen,
		hostname:         "localhost",
		instanceName:     "localhost",
	}
}

// Option configures a Server at construction time (spec.md §6).
type Option func(*config)

// applyOptions folds defaults with every supplied Option, matching the
// teacher's applyServerOpts.
func applyOptions(opts ...Option) config {
	c := defaultConfig()
	for _, o := range opts {
		if o != nil {
			o(&c)
		}
	}
	return c
}

// WithMaxServices caps the number of services that may be registered at
// once. Zero (the default) means unbounded.
func WithMaxServices(n int) Option {
	return func(c *config) { c.maxServices = n }
}

// WithMaxInterfaces caps the number of interfaces the responder will bind
// PCBs on. Zero (the default) means unbounded.
func WithMaxInterfaces(n int) Option {
	return func(c *config) { c.maxInterfaces = n }
}

// WithActionQueueDepth sets the capacity of the internal action queue
// (spec.md §4.7/§5). Enqueue returns ErrFull once it is exceeded.
func WithActionQueueDepth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.actionQueueDepth = n
		}
	}
}

// WithTimerTick sets the executor's wakeup period for the scheduler and
// search sweeps (spec.md §4.7, default 100ms).
func WithTimerTick(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timerTick = d
		}
	}
}

// WithRespondReverseQueries enables answering PTR questions under
// in-addr.arpa/ip6.arpa for owned and delegated addresses (spec.md §9).
func WithRespondReverseQueries(enabled bool) Option {
	return func(c *config) { c.respondReverseQueries = enabled }
}

// WithSuppressOwnQueries drops inbound packets whose source address
// matches the receiving interface's own address, avoiding a responder
// reacting to its own multicast traffic.
func WithSuppressOwnQueries(enabled bool) Option {
	return func(c *config) { c.suppressOwnQueries = enabled }
}

// WithNameBufLen sets the scratch buffer size used while encoding names
// (spec.md §6's name_buf_len, a carry-over from the source's fixed-size
// stack buffers — Go's encoder grows a slice instead, but the option is
// kept as a capacity hint for callers migrating tuned values over).
func WithNameBufLen(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.nameBufLen = n
		}
	}
}

// WithHostname seeds the initial hostname (default "localhost").
func WithHostname(name string) Option {
	return func(c *config) {
		if name != "" {
			c.hostname = name
		}
	}
}

// WithInstanceName seeds the initial default instance name (default "localhost").
func WithInstanceName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.instanceName = name
		}
	}
}

// WithLogger overrides the package-wide zap logger (default zap.L()).
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

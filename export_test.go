package mdns

import (
	"github.com/kdanielm/mdnsd/internal/statemachine"
	"github.com/kdanielm/mdnsd/internal/transport"
)

// These option constructors exist only for this package's own tests: they
// reach the config.socket/watcher/clock/rand override seam documented in
// options.go without exporting it to production callers.

func withSocket(s transport.Socket) Option { return func(c *config) { c.socket = s } }

func withWatcher(w transport.InterfaceWatcher) Option { return func(c *config) { c.watcher = w } }

func withClock(clk transport.Clock) Option { return func(c *config) { c.clock = clk } }

func withRand(r statemachine.Rand) Option { return func(c *config) { c.rand = r } }

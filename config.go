package datacake

import (
	"log"
	"os"
	"time"
)

// Config configures a Node. The zero value is not meant to be used
// directly; pass it through resolveConfig (done automatically by
// NewNode) to fill in defaults for every unset field.
type Config struct {
	// NodeID uniquely identifies this node's HLC clock and is used to
	// break timestamp ties against other nodes.
	NodeID uint32
	// LocalDC is this node's data-center tag, used to resolve
	// LocalOne/LocalQuorum consistency levels.
	LocalDC string
	// Addr is this node's own RPC address, as it appears in the
	// membership collaborator's member list.
	Addr string

	// ActorInboxSize bounds each keyspace actor's message queue.
	// Default 10.
	ActorInboxSize int
	// FanoutTimeout bounds each per-peer RPC during write fan-out.
	// Default 1s.
	FanoutTimeout time.Duration
	// PollInterval is the anti-entropy poller's fixed tick cadence.
	// Default 1s.
	PollInterval time.Duration
	// MaxClockCounter bounds the HLC's per-millisecond counter before
	// ClockOverflow is raised. Default math.MaxUint32 (via hlc.NewClock).
	MaxClockCounter uint32

	// LogDebug and LogError are optional loggers; nil disables the
	// corresponding level entirely rather than writing to a discard
	// writer, so logging is zero-cost when unset.
	LogDebug *log.Logger
	LogError *log.Logger
}

func resolveConfig(cfg Config) Config {
	if cfg.ActorInboxSize <= 0 {
		cfg.ActorInboxSize = 10
	}
	if cfg.FanoutTimeout <= 0 {
		cfg.FanoutTimeout = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return cfg
}

func (c *Config) logDebug(format string, args ...interface{}) {
	if c.LogDebug != nil {
		c.LogDebug.Printf(format, args...)
	}
}

func (c *Config) logError(format string, args ...interface{}) {
	if c.LogError != nil {
		c.LogError.Printf(format, args...)
	}
}

// DefaultLoggers returns loggers writing to stderr, matching the
// teacher's own log.New(os.Stderr, ...) idiom. Not used unless a caller
// opts in; Config's zero loggers mean "silent."
func DefaultLoggers() (debug, errorLog *log.Logger) {
	return log.New(os.Stderr, "datacake debug: ", log.LstdFlags),
		log.New(os.Stderr, "datacake error: ", log.LstdFlags)
}

package gcgraph

import "log"

// Config holds construction options for a Graph.
type Config struct {
	// ReserveRanges sets the capacity reserved up front for the range index
	// and the per-pass range mirror, so that steady-state allocation and
	// collection do not grow the backing arrays.
	ReserveRanges int
	// ReserveSlots sets the capacity reserved for the per-pass scan record,
	// keep and scan buffers.
	ReserveSlots int
	// Logger receives the collect-path messages. Defaults to log.Default().
	Logger *log.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReserveRanges: 100_000,
		ReserveSlots:  100_000,
		Logger:        log.Default(),
	}
}

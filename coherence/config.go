package coherence

import "github.com/sarchlab/oosim/simerr"

// Family selects which protocol's state alphabet and transition tables
// are in force.
type Family int

const (
	MI Family = iota
	MSI
	MESI
	MESIF
)

func (f Family) String() string {
	switch f {
	case MI:
		return "MI"
	case MSI:
		return "MSI"
	case MESI:
		return "MESI"
	case MESIF:
		return "MESIF"
	default:
		return "?"
	}
}

// ParseFamily maps the `-c` flag's integer selector to a Family.
func ParseFamily(c uint64) (Family, error) {
	switch c {
	case 0:
		return MI, nil
	case 1:
		return MSI, nil
	case 2:
		return MESI, nil
	case 3:
		return MESIF, nil
	default:
		return 0, simerr.NewConfigError("coherence", "unknown protocol family selector")
	}
}

// Config holds the parsed `-c/-p` flags.
type Config struct {
	Family     Family
	Processors int
}

// DefaultConfig returns a two-core MESI configuration.
func DefaultConfig() Config {
	return Config{Family: MESI, Processors: 2}
}

// Validate checks the configuration per spec.md §7's ConfigError taxonomy.
func (c Config) Validate() error {
	if c.Processors <= 0 {
		return simerr.NewConfigError("coherence", "processor count must be positive")
	}
	if c.Family < MI || c.Family > MESIF {
		return simerr.NewConfigError("coherence", "unknown protocol family")
	}
	return nil
}

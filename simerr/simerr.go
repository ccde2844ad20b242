// Package simerr defines the error taxonomy shared by every simulator
// component: configuration errors and trace-format errors are refused at
// start, invariant violations are fatal aborts that indicate a simulator
// bug, and stalls are diagnostic-only warnings.
package simerr

import "fmt"

// ConfigError reports an invalid or unsupported component configuration
// (unknown mode, E == 0, s+b > 64, negative counts). The harness refuses
// to start the simulation when one is returned from a component
// constructor.
type ConfigError struct {
	Component string
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Component, e.Reason)
}

// NewConfigError builds a ConfigError for the named component.
func NewConfigError(component, reason string) error {
	return &ConfigError{Component: component, Reason: reason}
}

// TraceFormatError reports a malformed trace line. The harness refuses
// to start the simulation when one is returned while opening a trace.
type TraceFormatError struct {
	Line   int
	Reason string
}

func (e *TraceFormatError) Error() string {
	return fmt.Sprintf("trace format error at line %d: %s", e.Line, e.Reason)
}

// NewTraceFormatError builds a TraceFormatError for the given line number.
func NewTraceFormatError(line int, reason string) error {
	return &TraceFormatError{Line: line, Reason: reason}
}

// InvariantViolation reports a simulator bug: a transient coherence state
// receiving a processor request, a popped instruction missing from its
// schedule queue, a miss-evict on a secondary line-crossing access, or
// similar states that should be structurally unreachable. These are fatal
// and must identify the offending component, state, and address.
type InvariantViolation struct {
	Component string
	State     string
	Addr      uint64
	HasAddr   bool
	Reason    string
}

func (e *InvariantViolation) Error() string {
	if e.HasAddr {
		return fmt.Sprintf("invariant violation in %s (state=%s, addr=0x%x): %s",
			e.Component, e.State, e.Addr, e.Reason)
	}
	return fmt.Sprintf("invariant violation in %s (state=%s): %s",
		e.Component, e.State, e.Reason)
}

// NewInvariantViolation builds an address-less InvariantViolation.
func NewInvariantViolation(component, state, reason string) error {
	return &InvariantViolation{Component: component, State: state, Reason: reason}
}

// NewInvariantViolationAddr builds an InvariantViolation naming the
// offending address.
func NewInvariantViolationAddr(component, state string, addr uint64, reason string) error {
	return &InvariantViolation{
		Component: component,
		State:     state,
		Addr:      addr,
		HasAddr:   true,
		Reason:    reason,
	}
}

// StallWarning is the watchdog's diagnostic when STALL_TIME ticks pass
// with no progress. It is never fatal; the harness logs it and keeps
// running.
type StallWarning struct {
	Ticks   int64
	Details string
}

func (e *StallWarning) Error() string {
	return fmt.Sprintf("stall warning after %d ticks: %s", e.Ticks, e.Details)
}

// NewStallWarning builds a StallWarning.
func NewStallWarning(ticks int64, details string) error {
	return &StallWarning{Ticks: ticks, Details: details}
}

package widget

import (
	"fmt"

	"github.com/statline/statline/internal/luart"
)

// SepState is the separate interpreter instance serving two degraded paths:
// string-form event handlers are compiled into it, and stillborn widgets
// resolve to it so the event watcher always has a non-nil interpreter to
// deliver into. It is created lazily on first need and lives for the rest
// of the process.
type SepState struct {
	cfg luart.Config
	st  *luart.State
}

// NewSepState prepares a lazy separate state. No interpreter is created
// until Ensure is called.
func NewSepState(cfg luart.Config) *SepState {
	return &SepState{cfg: cfg}
}

// Ensure creates the interpreter on first call and returns it. Failing to
// bootstrap an interpreter is not a recoverable runtime condition; it
// panics, matching the host's out-of-memory policy.
func (s *SepState) Ensure() *luart.State {
	if s.st == nil {
		st, err := luart.New(s.cfg)
		if err != nil {
			panic(fmt.Sprintf("widget: cannot create separate state: %v", err))
		}
		s.st = st
	}
	return s.st
}

// State returns the interpreter, or nil if it was never needed.
func (s *SepState) State() *luart.State {
	return s.st
}

// Created reports whether the interpreter exists.
func (s *SepState) Created() bool {
	return s.st != nil
}

// Close destroys the interpreter if it was ever created.
func (s *SepState) Close() {
	if s.st != nil {
		s.st.Close()
		s.st = nil
	}
}

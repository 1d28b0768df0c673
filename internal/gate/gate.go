// Package gate implements the access-code check that unlocks a form.
//
// The code's real purpose is order correlation, so the default policy accepts
// any well-formed code and leaves final authority to the external system.
package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"prohappy_backend/pkg/apperrors"
)

// CodeLength is the exact number of characters a gate code carries.
const CodeLength = 5

// State - состояние гейта формы
type State string

const (
	StateLocked     State = "locked"
	StateValidating State = "validating"
	StateUnlocked   State = "unlocked"
)

var (
	errWrongLength  = apperrors.ErrGateRejected.WithMessage(fmt.Sprintf("Access code must be exactly %d characters", CodeLength))
	errNotAlnum     = apperrors.ErrGateRejected.WithMessage("Access code may only contain letters and digits")
	errNotRecognise = apperrors.ErrGateRejected.WithMessage("Access code is not recognised")
)

// NormalizeCode trims surrounding whitespace and uppercases the code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CheckFormat validates a normalised code locally. It never performs I/O.
func CheckFormat(code string) error {
	if len([]rune(code)) != CodeLength {
		return errWrongLength
	}
	for _, r := range code {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return errNotAlnum
		}
	}
	return nil
}

// Gate tracks the lock state of one form instance.
type Gate struct {
	mu     sync.Mutex
	policy Policy
	state  State
	code   string
	err    error
}

// New returns a locked gate checked by policy. A nil policy defers to the
// external system.
func New(policy Policy) *Gate {
	if policy == nil {
		policy = DeferPolicy{}
	}
	return &Gate{policy: policy, state: StateLocked}
}

// Verify runs Locked -> Validating -> Unlocked, or back to Locked with the
// rejection attached. Malformed codes are rejected before the policy is asked.
func (g *Gate) Verify(ctx context.Context, code string) error {
	code = NormalizeCode(code)

	g.mu.Lock()
	switch g.state {
	case StateValidating:
		g.mu.Unlock()
		return apperrors.ErrInvalidState("Access code check is already in progress")
	case StateUnlocked:
		g.mu.Unlock()
		return apperrors.ErrInvalidState("Form is already unlocked")
	}

	if err := CheckFormat(code); err != nil {
		g.err = err
		g.mu.Unlock()
		return err
	}

	g.state = StateValidating
	g.err = nil
	g.mu.Unlock()

	err := g.policy.Check(ctx, code)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		if _, ok := apperrors.AsAppError(err); !ok {
			err = apperrors.ErrGateRejected.WithError(err)
		}
		g.state = StateLocked
		g.err = err
		return err
	}
	g.state = StateUnlocked
	g.code = code
	return nil
}

// State returns the current lock state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Code returns the accepted code, or "" while locked.
func (g *Gate) Code() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.code
}

// Err returns the last rejection, if any.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Reset locks the gate again and forgets the accepted code.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = StateLocked
	g.code = ""
	g.err = nil
}

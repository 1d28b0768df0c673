// Package formflow drives one form instance from the locked gate through
// validation to a delivered (or failed) submission.
package formflow

import (
	"context"
	"sync"
	"time"

	"prohappy_backend/internal/attachments"
	"prohappy_backend/internal/forms"
	"prohappy_backend/internal/gate"
	"prohappy_backend/internal/transport"
	"prohappy_backend/pkg/apperrors"

	"github.com/google/uuid"
)

// State of a form instance.
type State string

const (
	StateLocked     State = "locked"
	StateValidating State = "validating"
	StateUnlocked   State = "unlocked"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Sender delivers a captured submission.
type Sender interface {
	Send(ctx context.Context, sub *forms.Submission) transport.Outcome
}

// Config wires a Controller.
type Config struct {
	Kind     forms.Kind
	Gate     *gate.Gate
	Schema   *forms.Schema
	Policy   attachments.Policy
	Sender   Sender
	Metadata forms.Metadata

	NewID func() string
	Now   func() time.Time
}

// Result of a Submit or Retry call. Exactly one of Validation and Outcome is
// meaningful: Validation is non-empty when the form never left the instance.
type Result struct {
	Validation forms.ValidationResult
	Outcome    transport.Outcome
	Submission *forms.Submission
}

// Submitted reports whether the submission reached the transport.
func (r Result) Submitted() bool {
	return r.Validation.OK()
}

// Controller - состояние одной формы. Не разделяется между экземплярами.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	state    State
	form     forms.Form
	files    []attachments.Attachment
	captured *forms.Submission
	outcome  *transport.Outcome
}

// New returns a locked controller with an empty form of cfg.Kind.
func New(cfg Config) (*Controller, error) {
	form, err := forms.NewForm(cfg.Kind)
	if err != nil {
		return nil, err
	}
	if cfg.Gate == nil {
		cfg.Gate = gate.New(nil)
	}
	if cfg.Schema == nil {
		cfg.Schema = forms.NewSchema(nil, cfg.Now)
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{cfg: cfg, state: StateLocked, form: form}, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Verify checks the gate code. On success the code is copied into the form.
func (c *Controller) Verify(ctx context.Context, code string) error {
	c.mu.Lock()
	if c.state != StateLocked {
		c.mu.Unlock()
		return apperrors.ErrInvalidState("Form is not locked")
	}
	c.state = StateValidating
	c.mu.Unlock()

	err := c.cfg.Gate.Verify(ctx, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateLocked
		return err
	}
	c.state = StateUnlocked
	c.form.SetGateCode(c.cfg.Gate.Code())
	return nil
}

// SetForm replaces the field values. The gate code accepted by Verify is kept.
func (c *Controller) SetForm(f forms.Form) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return err
	}
	if f.Kind() != c.cfg.Kind {
		return apperrors.ErrUnknownFormKind.WithDetails(map[string]string{"formType": string(f.Kind())})
	}
	f = f.Clone()
	f.SetGateCode(c.cfg.Gate.Code())
	c.form = f
	return nil
}

// AddFiles validates incoming files against the policy and appends the
// accepted ones.
func (c *Controller) AddFiles(incoming []attachments.Attachment) (attachments.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editable(); err != nil {
		return attachments.Result{}, err
	}
	res := attachments.Validate(c.cfg.Policy, c.files, incoming)
	c.files = res.Accepted
	return res, nil
}

// Values returns a copy of the current form and files.
func (c *Controller) Values() (forms.Form, []attachments.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	files := make([]attachments.Attachment, len(c.files))
	copy(files, c.files)
	return c.form.Clone(), files
}

// Outcome returns the last delivery outcome, if any.
func (c *Controller) Outcome() (transport.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome == nil {
		return transport.Outcome{}, false
	}
	return *c.outcome, true
}

// Submit validates the form and, when valid, captures and sends it. A
// validation failure leaves the controller Unlocked with every value intact.
func (c *Controller) Submit(ctx context.Context) (Result, error) {
	c.mu.Lock()
	switch c.state {
	case StateSubmitting:
		c.mu.Unlock()
		return Result{}, apperrors.ErrSubmissionInFlight
	case StateUnlocked, StateFailed:
	default:
		c.mu.Unlock()
		return Result{}, apperrors.ErrInvalidState("Form cannot be submitted in state " + string(c.state))
	}

	forms.Normalize(c.form)
	if vr := c.cfg.Schema.Validate(c.form); !vr.OK() {
		c.state = StateUnlocked
		c.mu.Unlock()
		return Result{Validation: vr}, nil
	}

	sub := forms.Capture(c.cfg.NewID(), c.form, c.files, c.cfg.Now(), c.cfg.Metadata)
	c.captured = sub
	c.state = StateSubmitting
	c.mu.Unlock()

	return c.send(ctx, sub), nil
}

// Retry re-sends the submission captured by the last Submit, unchanged.
func (c *Controller) Retry(ctx context.Context) (Result, error) {
	c.mu.Lock()
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return Result{}, apperrors.ErrSubmissionInFlight
	}
	if c.state != StateFailed || c.captured == nil {
		c.mu.Unlock()
		return Result{}, apperrors.ErrInvalidState("Nothing to retry")
	}
	sub := c.captured
	c.state = StateSubmitting
	c.mu.Unlock()

	return c.send(ctx, sub), nil
}

// Dismiss acknowledges a success and resets the form for a new request.
func (c *Controller) Dismiss() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSucceeded {
		return apperrors.ErrInvalidState("Only a successful submission can be dismissed")
	}
	form, _ := forms.NewForm(c.cfg.Kind)
	c.form = form
	c.files = nil
	c.captured = nil
	c.outcome = nil
	c.cfg.Gate.Reset()
	c.state = StateLocked
	return nil
}

func (c *Controller) send(ctx context.Context, sub *forms.Submission) Result {
	var out transport.Outcome
	if c.cfg.Sender == nil {
		out = transport.FailedOutcome(apperrors.ErrEndpointNotConfigured)
	} else {
		out = c.cfg.Sender.Send(ctx, sub)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcome = &out
	if out.Success {
		c.state = StateSucceeded
	} else {
		c.state = StateFailed
	}
	return Result{Outcome: out, Submission: sub}
}

func (c *Controller) editable() error {
	switch c.state {
	case StateUnlocked, StateFailed:
		return nil
	case StateLocked, StateValidating:
		return apperrors.ErrGateRejected.WithMessage("Enter your access code first")
	default:
		return apperrors.ErrInvalidState("Form cannot be edited in state " + string(c.state))
	}
}

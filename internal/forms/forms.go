// Package forms defines the three submission variants and their validation
// schema.
package forms

import (
	"encoding/json"
	"strings"
	"time"

	"prohappy_backend/internal/attachments"
	"prohappy_backend/internal/gate"
)

// DateLayout is the wire format of deadline fields.
const DateLayout = "2006-01-02"

// Form is implemented by every form variant.
type Form interface {
	Kind() Kind
	GateCode() string
	SetGateCode(code string)
	ContactEmail() string
	// DeadlineDate returns the raw deadline value, "" when not provided.
	DeadlineDate() string
	// FreeText returns pointers to the user-authored prose fields.
	FreeText() []*string
	Clone() Form
	normalize()
}

// Assignment - заявка на выполнение работы
type Assignment struct {
	Code        string `json:"code" form:"code" validate:"required,gatecode"`
	FullName    string `json:"fullName" form:"fullName" validate:"required,min=2,max=100"`
	Email       string `json:"email" form:"email" validate:"required,email,max=254"`
	Phone       string `json:"phone,omitempty" form:"phone" validate:"omitempty,phone"`
	ModuleName  string `json:"moduleName" form:"moduleName" validate:"required,min=2,max=200"`
	ModuleCode  string `json:"moduleCode,omitempty" form:"moduleCode" validate:"omitempty,modulecode"`
	WordCount   int    `json:"wordCount,omitempty" form:"wordCount" validate:"omitempty,min=100,max=100000"`
	Deadline    string `json:"deadline,omitempty" form:"deadline" validate:"omitempty,datetime=2006-01-02"`
	Guidance    string `json:"guidance,omitempty" form:"guidance" validate:"max=5000"`
	Notes       string `json:"notes,omitempty" form:"notes" validate:"max=5000"`
	AcceptTerms bool   `json:"acceptTerms" form:"acceptTerms" validate:"required"`
}

func (f *Assignment) Kind() Kind              { return KindAssignment }
func (f *Assignment) GateCode() string        { return f.Code }
func (f *Assignment) SetGateCode(code string) { f.Code = code }
func (f *Assignment) ContactEmail() string    { return f.Email }
func (f *Assignment) DeadlineDate() string    { return f.Deadline }
func (f *Assignment) FreeText() []*string     { return []*string{&f.Guidance, &f.Notes} }

func (f *Assignment) Clone() Form {
	cp := *f
	return &cp
}

func (f *Assignment) normalize() {
	f.Code = gate.NormalizeCode(f.Code)
	trimAll(&f.FullName, &f.Email, &f.Phone, &f.ModuleName, &f.ModuleCode, &f.Deadline, &f.Guidance, &f.Notes)
	f.ModuleCode = strings.ToUpper(f.ModuleCode)
}

// ChangeRequest - запрос на изменение уже оформленного заказа
type ChangeRequest struct {
	Code              string `json:"code" form:"code" validate:"required,gatecode"`
	Email             string `json:"email" form:"email" validate:"required,email,max=254"`
	OrderReference    string `json:"orderReference,omitempty" form:"orderReference" validate:"max=50"`
	ChangeDescription string `json:"changeDescription" form:"changeDescription" validate:"required,min=10,max=5000"`
	Deadline          string `json:"deadline,omitempty" form:"deadline" validate:"omitempty,datetime=2006-01-02"`
	Notes             string `json:"notes,omitempty" form:"notes" validate:"max=5000"`
}

func (f *ChangeRequest) Kind() Kind              { return KindChangeRequest }
func (f *ChangeRequest) GateCode() string        { return f.Code }
func (f *ChangeRequest) SetGateCode(code string) { f.Code = code }
func (f *ChangeRequest) ContactEmail() string    { return f.Email }
func (f *ChangeRequest) DeadlineDate() string    { return f.Deadline }
func (f *ChangeRequest) FreeText() []*string     { return []*string{&f.ChangeDescription, &f.Notes} }

func (f *ChangeRequest) Clone() Form {
	cp := *f
	return &cp
}

func (f *ChangeRequest) normalize() {
	f.Code = gate.NormalizeCode(f.Code)
	trimAll(&f.Email, &f.OrderReference, &f.ChangeDescription, &f.Deadline, &f.Notes)
}

// WorkerDeliverable - сдача готовой работы исполнителем
type WorkerDeliverable struct {
	Code            string `json:"code" form:"code" validate:"required,gatecode"`
	WorkerName      string `json:"workerName" form:"workerName" validate:"required,min=2,max=100"`
	WorkerID        string `json:"workerId,omitempty" form:"workerId" validate:"omitempty,alphanum,max=20"`
	Email           string `json:"email" form:"email" validate:"required,email,max=254"`
	OrderReference  string `json:"orderReference" form:"orderReference" validate:"required,max=50"`
	Deadline        string `json:"deadline,omitempty" form:"deadline" validate:"omitempty,datetime=2006-01-02"`
	Notes           string `json:"notes,omitempty" form:"notes" validate:"max=5000"`
	ConfirmOriginal bool   `json:"confirmOriginal" form:"confirmOriginal" validate:"required"`
}

func (f *WorkerDeliverable) Kind() Kind              { return KindWorkerDeliverable }
func (f *WorkerDeliverable) GateCode() string        { return f.Code }
func (f *WorkerDeliverable) SetGateCode(code string) { f.Code = code }
func (f *WorkerDeliverable) ContactEmail() string    { return f.Email }
func (f *WorkerDeliverable) DeadlineDate() string    { return f.Deadline }
func (f *WorkerDeliverable) FreeText() []*string     { return []*string{&f.Notes} }

func (f *WorkerDeliverable) Clone() Form {
	cp := *f
	return &cp
}

func (f *WorkerDeliverable) normalize() {
	f.Code = gate.NormalizeCode(f.Code)
	trimAll(&f.WorkerName, &f.WorkerID, &f.Email, &f.OrderReference, &f.Deadline, &f.Notes)
}

// Normalize trims every text field and uppercases the gate code in place.
func Normalize(f Form) {
	f.normalize()
}

func trimAll(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}

// Fields flattens a form into its wire field map (JSON names).
func Fields(f Form) (map[string]interface{}, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Metadata describes where a submission came from.
type Metadata struct {
	UserAgent   string `json:"userAgent"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
}

// Submission is a captured, validated form plus its accepted attachments.
// It is never modified after capture: retries re-send the same value.
type Submission struct {
	ID          string
	Kind        Kind
	Form        Form
	Attachments []attachments.Attachment
	SubmittedAt time.Time
	Metadata    Metadata
}

// Capture snapshots form and files into a Submission. The form and the
// attachment slice are copied so later edits by the caller do not leak in.
func Capture(id string, form Form, files []attachments.Attachment, now time.Time, meta Metadata) *Submission {
	cp := make([]attachments.Attachment, len(files))
	copy(cp, files)
	return &Submission{
		ID:          id,
		Kind:        form.Kind(),
		Form:        form.Clone(),
		Attachments: cp,
		SubmittedAt: now.UTC(),
		Metadata:    meta,
	}
}

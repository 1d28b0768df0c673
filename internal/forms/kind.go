package forms

import (
	"strings"

	"prohappy_backend/pkg/apperrors"
)

// Kind identifies one of the three form flows.
type Kind string

const (
	KindAssignment        Kind = "assignment"
	KindChangeRequest     Kind = "change_request"
	KindWorkerDeliverable Kind = "worker_deliverable"
)

var kinds = []Kind{KindAssignment, KindChangeRequest, KindWorkerDeliverable}

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// ParseKind accepts the canonical name as well as the hyphenated form used in
// URLs (change-request, worker-deliverable).
func ParseKind(s string) (Kind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, k := range kinds {
		if string(k) == normalized {
			return k, nil
		}
	}
	return "", apperrors.ErrUnknownFormKind.WithDetails(map[string]string{"formType": s})
}

// Title - человекочитаемое название формы
func (k Kind) Title() string {
	switch k {
	case KindAssignment:
		return "Assignment submission"
	case KindChangeRequest:
		return "Change request"
	case KindWorkerDeliverable:
		return "Worker deliverable"
	default:
		return string(k)
	}
}

// NewForm returns an empty form of the given kind.
func NewForm(k Kind) (Form, error) {
	switch k {
	case KindAssignment:
		return &Assignment{}, nil
	case KindChangeRequest:
		return &ChangeRequest{}, nil
	case KindWorkerDeliverable:
		return &WorkerDeliverable{}, nil
	default:
		return nil, apperrors.ErrUnknownFormKind.WithDetails(map[string]string{"formType": string(k)})
	}
}

package models

type SubmissionStatus string

const (
	SubmissionStatusPending           SubmissionStatus = "pending"
	SubmissionStatusConfirmed         SubmissionStatus = "confirmed"
	SubmissionStatusProbablySucceeded SubmissionStatus = "probably_succeeded"
	SubmissionStatusFailed            SubmissionStatus = "failed"
)

// Delivered reports whether the external system (probably) has the submission.
func (s SubmissionStatus) Delivered() bool {
	return s == SubmissionStatusConfirmed || s == SubmissionStatusProbablySucceeded
}

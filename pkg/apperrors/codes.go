package apperrors

// ErrorCode - тип для кодов ошибок
type ErrorCode string

const (
	// System errors
	CodeInternalError        ErrorCode = "INTERNAL_ERROR"
	CodeDatabaseError        ErrorCode = "DATABASE_ERROR"
	CodeExternalServiceError ErrorCode = "EXTERNAL_SERVICE_ERROR"

	// Request and validation errors
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	CodeUnauthorized     ErrorCode = "UNAUTHORIZED"

	// Form flow
	CodeGateRejected       ErrorCode = "GATE_REJECTED"
	CodeUnknownFormKind    ErrorCode = "UNKNOWN_FORM_KIND"
	CodeSubmissionInFlight ErrorCode = "SUBMISSION_IN_FLIGHT"
	CodeInvalidState       ErrorCode = "INVALID_STATE"
	CodePayloadTooLarge    ErrorCode = "PAYLOAD_TOO_LARGE"
)

package handlers

// AppHandlers содержит все хэндлеры приложения.
type AppHandlers struct {
	FormHandler       *FormHandler
	SubmissionHandler *SubmissionHandler
	StaticHandler     *StaticHandler
}

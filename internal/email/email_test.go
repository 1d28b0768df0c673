package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type captureDialer struct {
	messages []*gomail.Message
	err      error
}

func (d *captureDialer) DialAndSend(m ...*gomail.Message) error {
	d.messages = append(d.messages, m...)
	return d.err
}

func testConfig() *SMTPConfig {
	return &SMTPConfig{Host: "smtp.example.com", Port: 587, FromEmail: "noreply@example.com", FromName: "ProHappy"}
}

func TestTemplateManager_EmbeddedTemplates(t *testing.T) {
	tm, err := NewTemplateManager()
	require.NoError(t, err)
	assert.Contains(t, tm.TemplateNames(), "submission_failed")

	out, err := tm.Render("submission_failed", TemplateData{
		"SubmissionID": "sub-1",
		"FormTitle":    "Assignment submission",
		"Message":      "<script>alert(1)</script>",
		"Retryable":    true,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "sub-1")
	assert.Contains(t, out, "redelivered automatically")
	assert.NotContains(t, out, "<script>")

	_, err = tm.Render("missing", nil)
	assert.Error(t, err)
}

func TestSMTPProvider_Validate(t *testing.T) {
	assert.NoError(t, NewSMTPProvider(testConfig()).Validate())

	cfg := testConfig()
	cfg.Host = ""
	assert.Error(t, NewSMTPProvider(cfg).Validate())

	cfg = testConfig()
	cfg.Port = 0
	assert.Error(t, NewSMTPProvider(cfg).Validate())

	assert.False(t, (&SMTPConfig{Host: "h"}).Enabled())
	assert.True(t, testConfig().Enabled())
}

func TestSMTPProvider_Send(t *testing.T) {
	d := &captureDialer{}
	p := NewSMTPProvider(testConfig()).WithDialer(d)

	require.NoError(t, p.Send(&Email{To: []string{"ops@example.com"}, Subject: "hi", HTMLBody: "<p>hi</p>"}))
	require.Len(t, d.messages, 1)
	assert.Equal(t, []string{"ops@example.com"}, d.messages[0].GetHeader("To"))
	assert.Equal(t, []string{"hi"}, d.messages[0].GetHeader("Subject"))

	assert.Error(t, p.Send(&Email{Subject: "nobody"}))

	d.err = errors.New("connection refused")
	assert.Error(t, p.Send(&Email{To: []string{"ops@example.com"}}))
}

func TestAlertNotifier(t *testing.T) {
	tm, err := NewTemplateManager()
	require.NoError(t, err)
	d := &captureDialer{}
	n := NewAlertNotifier(NewSMTPProvider(testConfig()).WithDialer(d), tm, "ops@example.com")

	err = n.SubmissionFailed(context.Background(), FailureAlert{
		SubmissionID: "sub-9",
		FormTitle:    "Change request",
		Class:        "server_error",
		HTTPStatus:   503,
		Attempts:     3,
	})
	require.NoError(t, err)
	require.Len(t, d.messages, 1)
	assert.Contains(t, d.messages[0].GetHeader("Subject")[0], "sub-9")
}

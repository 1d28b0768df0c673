// Package diagnostics sends fixed sample submissions to each configured
// webhook and reports whether they were accepted.
package diagnostics

import (
	"context"
	"fmt"
	"io"
	"time"

	"prohappy_backend/internal/attachments"
	"prohappy_backend/internal/forms"
	"prohappy_backend/internal/transport"

	"github.com/google/uuid"
)

// SampleCode is the access code carried by every diagnostic payload so the
// receiving side can filter test traffic.
const SampleCode = "TEST0"

type Result string

const (
	ResultPass Result = "PASS"
	ResultFail Result = "FAIL"
	ResultSkip Result = "SKIP"
)

// Client is the part of *transport.Client used here.
type Client interface {
	Endpoint(kind forms.Kind) (transport.Endpoint, bool)
	Encode(sub *forms.Submission) (*transport.Payload, error)
	DeliverOnce(ctx context.Context, p *transport.Payload) transport.Outcome
}

// Check is the result for one form kind.
type Check struct {
	Kind       forms.Kind
	Endpoint   string
	Result     Result
	HTTPStatus int
	Class      transport.Class
	Message    string
	Latency    time.Duration
}

type Report struct {
	Checks []Check
}

// Failed reports whether any endpoint failed. Skipped endpoints do not count.
func (r Report) Failed() bool {
	for _, c := range r.Checks {
		if c.Result == ResultFail {
			return true
		}
	}
	return false
}

func (r Report) Count(res Result) int {
	n := 0
	for _, c := range r.Checks {
		if c.Result == res {
			n++
		}
	}
	return n
}

// Sample builds the fixed diagnostic submission for kind.
func Sample(kind forms.Kind, now time.Time) (*forms.Submission, error) {
	var form forms.Form
	switch kind {
	case forms.KindAssignment:
		form = &forms.Assignment{
			Code:        SampleCode,
			FullName:    "Webhook Check",
			Email:       "webhook-check@example.com",
			ModuleName:  "Connectivity test",
			WordCount:   1000,
			Notes:       "Automated connectivity test, please ignore.",
			AcceptTerms: true,
		}
	case forms.KindChangeRequest:
		form = &forms.ChangeRequest{
			Code:              SampleCode,
			Email:             "webhook-check@example.com",
			OrderReference:    "TEST-ORDER",
			ChangeDescription: "Automated connectivity test, please ignore.",
		}
	case forms.KindWorkerDeliverable:
		form = &forms.WorkerDeliverable{
			Code:            SampleCode,
			WorkerName:      "Webhook Check",
			Email:           "webhook-check@example.com",
			OrderReference:  "TEST-ORDER",
			Notes:           "Automated connectivity test, please ignore.",
			ConfirmOriginal: true,
		}
	default:
		return nil, fmt.Errorf("no sample for form type %q", kind)
	}

	content := []byte("ProHappy webhook check\n")
	files := []attachments.Attachment{{
		Name:      "webhook-check.txt",
		MediaType: attachments.TypeTXT,
		Size:      int64(len(content)),
		Content:   content,
	}}
	meta := forms.Metadata{UserAgent: "webhook-check", Environment: "diagnostics"}
	return forms.Capture(uuid.NewString(), form, files, now, meta), nil
}

// Run checks every kind in order, writing one line per kind to out.
// Retries are disabled so each endpoint sees exactly one request.
func Run(ctx context.Context, client Client, kinds []forms.Kind, out io.Writer) Report {
	var report Report
	for _, kind := range kinds {
		c := check(ctx, client, kind)
		report.Checks = append(report.Checks, c)
		if out != nil {
			fmt.Fprintln(out, c.Line())
		}
	}
	if out != nil {
		fmt.Fprintf(out, "%d passed, %d failed, %d skipped\n",
			report.Count(ResultPass), report.Count(ResultFail), report.Count(ResultSkip))
	}
	return report
}

func check(ctx context.Context, client Client, kind forms.Kind) Check {
	c := Check{Kind: kind}

	ep, ok := client.Endpoint(kind)
	if !ok {
		c.Result = ResultSkip
		c.Message = "endpoint not configured"
		return c
	}
	c.Endpoint = ep.URL

	sub, err := Sample(kind, time.Now())
	if err != nil {
		c.Result = ResultFail
		c.Message = err.Error()
		return c
	}
	p, err := client.Encode(sub)
	if err != nil {
		c.Result = ResultFail
		c.Message = err.Error()
		return c
	}

	start := time.Now()
	outcome := client.DeliverOnce(ctx, p)
	c.Latency = time.Since(start)
	c.HTTPStatus = outcome.HTTPStatus
	c.Class = outcome.Class
	c.Message = outcome.Message
	if outcome.Success {
		c.Result = ResultPass
	} else {
		c.Result = ResultFail
	}
	return c
}

// Line formats c for terminal output.
func (c Check) Line() string {
	switch c.Result {
	case ResultSkip:
		return fmt.Sprintf("SKIP  %-18s %s", c.Kind, c.Message)
	case ResultPass:
		return fmt.Sprintf("PASS  %-18s %d  %s  %s", c.Kind, c.HTTPStatus, c.Latency.Round(time.Millisecond), c.Endpoint)
	default:
		return fmt.Sprintf("FAIL  %-18s %d  %s  %s  %s", c.Kind, c.HTTPStatus, c.Latency.Round(time.Millisecond), c.Endpoint, c.Message)
	}
}

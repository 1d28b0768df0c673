// Package transport delivers captured submissions to the external webhook of
// their form kind, with bounded sequential retries.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"prohappy_backend/internal/forms"
	"prohappy_backend/internal/logger"
	"prohappy_backend/pkg/apperrors"
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffIncremental Backoff = "incremental"
)

const maxResponseBody = 1 << 20

// Endpoint is the webhook a form kind is delivered to.
type Endpoint struct {
	URL      string   `yaml:"url"`
	Encoding Encoding `yaml:"encoding"`
}

// Options configures a Client.
type Options struct {
	Endpoints  map[forms.Kind]Endpoint
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Backoff    Backoff
	UserAgent  string

	// HTTPClient defaults to a client that does not follow redirects.
	HTTPClient *http.Client
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client sends submissions and classifies the responses.
type Client struct {
	opts   Options
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

// New - конструктор клиента доставки
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff == "" {
		opts.Backoff = BackoffFixed
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "prohappy-backend"
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{
			// 3xx is classified as delivered, not followed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Client{opts: opts, client: client, sleep: sleep}
}

// CloseIdleConnections releases pooled keep-alive connections.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

// Endpoint returns the configured endpoint for kind.
func (c *Client) Endpoint(kind forms.Kind) (Endpoint, bool) {
	ep, ok := c.opts.Endpoints[kind]
	if !ok || strings.TrimSpace(ep.URL) == "" {
		return Endpoint{}, false
	}
	return ep, true
}

// Encode builds the payload for sub using the endpoint of its kind.
func (c *Client) Encode(sub *forms.Submission) (*Payload, error) {
	ep, ok := c.Endpoint(sub.Kind)
	if !ok {
		return nil, apperrors.ErrEndpointNotConfigured.WithDetails(map[string]string{"formType": string(sub.Kind)})
	}
	return Encode(sub, ep)
}

// Send encodes and delivers sub.
func (c *Client) Send(ctx context.Context, sub *forms.Submission) Outcome {
	p, err := c.Encode(sub)
	if err != nil {
		return FailedOutcome(err)
	}
	return c.Deliver(ctx, p)
}

// Deliver posts p until it succeeds, fails permanently or runs out of
// retries. Attempts are sequential and send identical bytes.
func (c *Client) Deliver(ctx context.Context, p *Payload) Outcome {
	return c.deliver(ctx, p, c.opts.MaxRetries)
}

// DeliverOnce posts p a single time.
func (c *Client) DeliverOnce(ctx context.Context, p *Payload) Outcome {
	return c.deliver(ctx, p, 0)
}

func (c *Client) deliver(ctx context.Context, p *Payload, maxRetries int) Outcome {
	var out Outcome
	for attempt := 1; ; attempt++ {
		start := time.Now()
		out = c.attempt(ctx, p)
		out.Attempts = attempt
		logger.DeliveryLog(string(p.Kind), p.Endpoint, attempt, out.HTTPStatus, string(out.Class), time.Since(start))

		if out.Success || !out.Class.Retryable() {
			return out
		}
		if attempt > maxRetries {
			break
		}
		if err := c.sleep(ctx, c.delay(attempt)); err != nil {
			return cancelled(err, attempt)
		}
	}

	if out.Attempts > 1 {
		out.Message = "Submission failed after multiple attempts: " + out.Message
	}
	return out
}

func (c *Client) delay(attempt int) time.Duration {
	if c.opts.Backoff == BackoffIncremental {
		return c.opts.RetryDelay * time.Duration(attempt)
	}
	return c.opts.RetryDelay
}

func (c *Client) attempt(ctx context.Context, p *Payload) Outcome {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, p.Endpoint, bytes.NewReader(p.Body))
	if err != nil {
		return Outcome{Message: MessageUnknown, Status: StatusFailed, Class: ClassUnknown, Err: err}
	}
	req.Header.Set("Content-Type", p.ContentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("X-Submission-ID", p.SubmissionID)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err(), 0)
		}
		return classifyError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Status arrived, so the request was delivered.
		return Outcome{Success: true, Message: MessageReceived, Status: StatusProbablySucceeded, Class: ClassSuccess, HTTPStatus: resp.StatusCode}
	}
	return classifyResponse(resp.StatusCode, body)
}

func cancelled(err error, attempts int) Outcome {
	return Outcome{Message: MessageCancelled, Status: StatusFailed, Class: ClassUnknown, Attempts: attempts, Err: err}
}

// serverReply is the response shape the webhooks are expected to return.
type serverReply struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
	OrderID string `json:"orderId"`
}

func parseReply(body []byte) (serverReply, bool) {
	var r serverReply
	if len(bytes.TrimSpace(body)) == 0 {
		return r, false
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return r, false
	}
	return r, true
}

func (r serverReply) text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}

func classifyResponse(status int, body []byte) Outcome {
	out := Outcome{HTTPStatus: status}
	reply, parsed := parseReply(body)

	switch {
	case status >= 200 && status < 300:
		if parsed && reply.Success != nil {
			if *reply.Success {
				out.Success = true
				out.Status = StatusConfirmed
				out.Class = ClassSuccess
				out.OrderID = reply.OrderID
				out.Message = MessageReceived
				if reply.Message != "" {
					out.Message = reply.Message
				}
				return out
			}
			out.Status = StatusFailed
			out.Class = ClassClient
			out.Message = reply.text()
			if out.Message == "" {
				out.Message = "The submission was rejected."
			}
			return out
		}
		out.Success = true
		out.Status = StatusProbablySucceeded
		out.Class = ClassSuccess
		out.OrderID = reply.OrderID
		out.Message = MessageReceived
		return out

	case status >= 300 && status < 400:
		out.Success = true
		out.Status = StatusProbablySucceeded
		out.Class = ClassSuccess
		out.Message = MessageReceived
		return out

	case status >= 400 && status < 500:
		out.Status = StatusFailed
		out.Class = ClassClient
		out.Message = clientMessage(status, reply, parsed, body)
		return out

	case status >= 500 && status < 600:
		out.Status = StatusFailed
		out.Class = ClassServer
		out.Message = fmt.Sprintf("The submission service is temporarily unavailable (HTTP %d).", status)
		return out

	default:
		out.Status = StatusFailed
		out.Class = ClassUnknown
		out.Message = MessageUnknown
		return out
	}
}

func clientMessage(status int, reply serverReply, parsed bool, body []byte) string {
	if parsed {
		if msg := reply.text(); msg != "" {
			return msg
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && !parsed && len(text) <= 500 {
		return text
	}
	return fmt.Sprintf("The submission was rejected (HTTP %d).", status)
}

// classifyError handles requests that produced no response.
func classifyError(err error) Outcome {
	out := Outcome{Status: StatusFailed, Err: err}

	inner := err
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		inner = urlErr.Err
	}

	var netErr net.Error
	switch {
	case errors.Is(inner, context.DeadlineExceeded):
		out.Class = ClassNetwork
		out.Message = "The submission service did not respond in time."
	case errors.As(inner, &netErr):
		out.Class = ClassNetwork
		if netErr.Timeout() {
			out.Message = "The submission service did not respond in time."
		} else {
			out.Message = "Could not connect to the submission service."
		}
	case errors.Is(inner, io.EOF), errors.Is(inner, io.ErrUnexpectedEOF),
		errors.Is(inner, syscall.ECONNRESET), errors.Is(inner, syscall.ECONNREFUSED):
		out.Class = ClassNetwork
		out.Message = "Could not connect to the submission service."
	default:
		out.Class = ClassUnknown
		out.Message = MessageUnknown
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package transport

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"prohappy_backend/internal/forms"
)

// Encoding selects the body format sent to an endpoint.
type Encoding string

const (
	EncodingJSON      Encoding = "json"
	EncodingMultipart Encoding = "multipart"
)

// ParseEncoding defaults to JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(EncodingJSON):
		return EncodingJSON, nil
	case string(EncodingMultipart):
		return EncodingMultipart, nil
	default:
		return "", fmt.Errorf("unknown webhook encoding: %s", s)
	}
}

// Payload is an encoded submission. Every attempt sends exactly Body.
type Payload struct {
	Kind         forms.Kind
	SubmissionID string
	Endpoint     string
	ContentType  string
	Body         []byte
}

type wireFile struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Data string `json:"data,omitempty"`
}

type envelope struct {
	FormType     forms.Kind             `json:"formType"`
	SubmissionID string                 `json:"submissionId"`
	Timestamp    string                 `json:"timestamp"`
	Data         map[string]interface{} `json:"data"`
	Metadata     forms.Metadata         `json:"metadata"`
}

// Encode serialises a submission for endpoint.
func Encode(sub *forms.Submission, endpoint Endpoint) (*Payload, error) {
	fields, err := forms.Fields(sub.Form)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten form fields: %w", err)
	}

	inline := endpoint.Encoding != EncodingMultipart
	files := make([]wireFile, 0, len(sub.Attachments))
	for _, a := range sub.Attachments {
		f := wireFile{Name: a.Name, Type: a.MediaType, Size: a.Size}
		if inline {
			f.Data = base64.StdEncoding.EncodeToString(a.Content)
		}
		files = append(files, f)
	}
	fields["files"] = files

	env := envelope{
		FormType:     sub.Kind,
		SubmissionID: sub.ID,
		Timestamp:    sub.SubmittedAt.UTC().Format(time.RFC3339),
		Data:         fields,
		Metadata:     sub.Metadata,
	}
	doc, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode submission: %w", err)
	}

	p := &Payload{
		Kind:         sub.Kind,
		SubmissionID: sub.ID,
		Endpoint:     endpoint.URL,
	}

	if inline {
		p.ContentType = "application/json"
		p.Body = doc
		return p, nil
	}

	body, contentType, err := encodeMultipart(sub, doc)
	if err != nil {
		return nil, err
	}
	p.ContentType = contentType
	p.Body = body
	return p, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeMultipart(sub *forms.Submission, doc []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	// Fixed per submission so a re-encode produces the same bytes.
	if err := mw.SetBoundary("prohappy-" + sub.ID); err != nil {
		return nil, "", fmt.Errorf("invalid multipart boundary: %w", err)
	}

	if err := mw.WriteField("formType", string(sub.Kind)); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("payload", string(doc)); err != nil {
		return nil, "", err
	}

	for _, a := range sub.Attachments {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, quoteEscaper.Replace(a.Name)))
		h.Set("Content-Type", a.MediaType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(a.Content); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// Package attachments checks client-provided files against a per-form policy.
package attachments

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	MB = 1 << 20

	// Media types accepted by every form.
	TypePDF  = "application/pdf"
	TypeDOC  = "application/msword"
	TypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	TypeTXT  = "text/plain"
	TypeJPEG = "image/jpeg"
	TypePNG  = "image/png"
	TypeGIF  = "image/gif"
	TypeWEBP = "image/webp"
)

// DefaultAllowedTypes - разрешенные типы файлов
var DefaultAllowedTypes = []string{TypePDF, TypeDOC, TypeDOCX, TypeTXT, TypeJPEG, TypePNG, TypeGIF, TypeWEBP}

// Attachment is one uploaded file held in memory.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"type"`
	Size      int64  `json:"size"`
	Content   []byte `json:"-"`
}

// Policy bounds the attachments a single submission may carry.
type Policy struct {
	MaxCount     int      `json:"maxCount"`
	MaxSizeBytes int64    `json:"maxSizeBytes"`
	AllowedTypes []string `json:"allowedTypes"`
}

// Allows reports whether mediaType is on the allow-list.
func (p Policy) Allows(mediaType string) bool {
	mediaType = baseType(mediaType)
	for _, t := range p.AllowedTypes {
		if strings.EqualFold(t, mediaType) {
			return true
		}
	}
	return false
}

// MaxSizeHuman renders the per-file limit for messages and API listings.
func (p Policy) MaxSizeHuman() string {
	return humanize.IBytes(uint64(p.MaxSizeBytes))
}

// Result of validating one batch. Accepted always holds existing files first.
type Result struct {
	Accepted []Attachment
	// Errors is keyed by file name; repeated names get " (2)", " (3)", ...
	Errors  map[string]string
	Dropped []string
	Notices []string
}

// OK reports whether every incoming file was accepted.
func (r Result) OK() bool {
	return len(r.Errors) == 0 && len(r.Dropped) == 0
}

// Validate checks each incoming file on its own. Files that fail are left out
// while the rest are kept. When existing plus accepted files exceed
// MaxCount, the first MaxCount are kept in existing-then-new order and the
// overflow is reported as a notice.
func Validate(policy Policy, existing, incoming []Attachment) Result {
	res := Result{Errors: make(map[string]string)}

	accepted := make([]Attachment, 0, len(existing)+len(incoming))
	accepted = append(accepted, existing...)

	for _, file := range incoming {
		file.MediaType = ResolveMediaType(file.Name, file.MediaType, file.Content)
		if file.Size == 0 {
			file.Size = int64(len(file.Content))
		}
		if err := checkFile(policy, file); err != nil {
			res.Errors[errorKey(res.Errors, file.Name)] = err.Error()
			continue
		}
		accepted = append(accepted, file)
	}

	if policy.MaxCount > 0 && len(accepted) > policy.MaxCount {
		for _, f := range accepted[policy.MaxCount:] {
			res.Dropped = append(res.Dropped, f.Name)
		}
		accepted = accepted[:policy.MaxCount]
		res.Notices = append(res.Notices, fmt.Sprintf(
			"%d file(s) were not added because the limit is %d files: %s",
			len(res.Dropped), policy.MaxCount, strings.Join(res.Dropped, ", ")))
	}

	res.Accepted = accepted
	return res
}

func errorKey(errs map[string]string, name string) string {
	if _, taken := errs[name]; !taken {
		return name
	}
	for n := 2; ; n++ {
		key := fmt.Sprintf("%s (%d)", name, n)
		if _, taken := errs[key]; !taken {
			return key
		}
	}
}

func checkFile(policy Policy, file Attachment) error {
	if file.Size <= 0 {
		return fmt.Errorf("%s is empty", file.Name)
	}
	if policy.MaxSizeBytes > 0 && file.Size > policy.MaxSizeBytes {
		return fmt.Errorf("%s is %s which exceeds the %s size limit",
			file.Name, humanize.IBytes(uint64(file.Size)), policy.MaxSizeHuman())
	}
	if isExecutable(file.Content) {
		return fmt.Errorf("%s looks like an executable and is not allowed", file.Name)
	}
	if !policy.Allows(file.MediaType) {
		return fmt.Errorf("%s has unsupported type %s; allowed: PDF, DOC, DOCX, TXT and images", file.Name, displayType(file.MediaType))
	}
	return nil
}

func displayType(mediaType string) string {
	if mediaType == "" {
		return "unknown"
	}
	return mediaType
}

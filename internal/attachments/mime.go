package attachments

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Declared types that carry no information and are resolved from the content.
var genericTypes = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"binary/octet-stream":      true,
	"application/x-download":   true,
}

// extensionTypes - MIME тип по расширению файла
var extensionTypes = map[string]string{
	".pdf":  TypePDF,
	".doc":  TypeDOC,
	".docx": TypeDOCX,
	".txt":  TypeTXT,
	".jpg":  TypeJPEG,
	".jpeg": TypeJPEG,
	".png":  TypePNG,
	".gif":  TypeGIF,
	".webp": TypeWEBP,
}

// ResolveMediaType returns the effective media type of a file. A specific
// declared type wins; otherwise the extension and then the content decide.
func ResolveMediaType(name, declared string, content []byte) string {
	declared = baseType(declared)
	if !genericTypes[declared] {
		return declared
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	if len(content) == 0 {
		return declared
	}
	return baseType(mimetype.Detect(content).String())
}

func isExecutable(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	for m := mimetype.Detect(content); m != nil; m = m.Parent() {
		switch m.String() {
		case "application/vnd.microsoft.portable-executable",
			"application/x-executable",
			"application/x-elf",
			"application/x-mach-binary",
			"application/x-sharedlib":
			return true
		}
	}
	return false
}

func baseType(mediaType string) string {
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

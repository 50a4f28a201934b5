package store

import (
	"mime"

	"github.com/gabriel-vasile/mimetype"
)

const unknownMIME = "application/octet-stream"

// Sniffer classifies content by inspecting its bytes.
type Sniffer func(b []byte) (string, bool)

// DetectMIME reports the media type of b without parameters, e.g.
// "text/plain" rather than "text/plain; charset=utf-8". It reports false
// for empty input and for content that only matches the generic binary type.
func DetectMIME(b []byte) (string, bool) {
	if len(b) == 0 {
		return "", false
	}
	m := mimetype.Detect(b)
	if m.Is(unknownMIME) {
		return "", false
	}
	mediaType, _, err := mime.ParseMediaType(m.String())
	if err != nil {
		return m.String(), true
	}
	return mediaType, true
}

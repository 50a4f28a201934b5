package store_test

import (
	"testing"

	. "github.com/imrenagi/go-file-store/store"
	"github.com/stretchr/testify/assert"
)

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		name   string
		input  []byte
		want   string
		wantOK bool
	}{
		{"plain text drops the charset parameter", []byte("hello world"), "text/plain", true},
		{"png signature", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "image/png", true},
		{"pdf signature", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), "application/pdf", true},
		{"empty input is unknown", []byte{}, "", false},
		{"nil input is unknown", nil, "", false},
		{"opaque binary is unknown", []byte{0x01, 0x02, 0x03, 0x04, 0x00, 0x05, 0x06}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectMIME(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

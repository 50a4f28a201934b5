package store

import "errors"

var (
	ErrUnknownFileType = errors.New("unknown file type")
	ErrInvalidKey      = errors.New("invalid key")
	ErrNotFound        = errors.New("file not found")
	ErrDecode          = errors.New("cannot decode request")
	ErrBackend         = errors.New("storage backend failure")
)

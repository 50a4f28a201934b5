package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/imrenagi/go-file-store/store"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	NameField  = "name"
	OwnerField = "owner"
	BytesField = "bytes"

	ContentTypeHeader        = "Content-Type"
	ContentDispositionHeader = "Content-Disposition"

	defaultContentType = "application/octet-stream"
)

var (
	meter = otel.Meter("github.com/imrenagi/go-file-store/api/v1")

	defaultMaxUploadSize = int64(64 << 20) //64MB
)

type Options struct {
	MaxUploadSize int64
}

type Option func(*Options)

func WithMaxUploadSize(size int64) Option {
	return func(o *Options) {
		o.MaxUploadSize = size
	}
}

func NewController(s store.Store, opts ...Option) Controller {
	o := Options{
		MaxUploadSize: defaultMaxUploadSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	uploaded, err := meter.Int64Counter("filestore.uploaded_bytes",
		metric.WithDescription("Bytes accepted by successful uploads"),
		metric.WithUnit("By"))
	if err != nil {
		log.Error().Err(err).Msg("failed to create uploaded bytes counter")
		uploaded = noop.Int64Counter{}
	}
	downloaded, err := meter.Int64Counter("filestore.downloaded_bytes",
		metric.WithDescription("Bytes written to download responses"),
		metric.WithUnit("By"))
	if err != nil {
		log.Error().Err(err).Msg("failed to create downloaded bytes counter")
		downloaded = noop.Int64Counter{}
	}

	return Controller{
		store:           s,
		maxUploadSize:   o.MaxUploadSize,
		uploadedBytes:   uploaded,
		downloadedBytes: downloaded,
	}
}

type Controller struct {
	store           store.Store
	maxUploadSize   int64
	uploadedBytes   metric.Int64Counter
	downloadedBytes metric.Int64Counter
}

type PutResponse struct {
	ID string `json:"id"`
}

// Put stores the file carried by a multipart body with the fields name,
// owner and bytes. Other fields are ignored.
func (c *Controller) Put() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.Ctx(r.Context())
		r.Body = http.MaxBytesReader(w, r.Body, c.maxUploadSize)
		defer r.Body.Close()

		mr, err := r.MultipartReader()
		if err != nil {
			logger.Debug().Err(err).
				Str("content_type", r.Header.Get(ContentTypeHeader)).
				Msg("request is not multipart")
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", store.ErrDecode, err))
			return
		}

		input, err := decodeFileInput(mr)
		if err != nil {
			logger.Debug().Err(err).Msg("failed to decode upload")
			writeError(w, statusCode(err), err)
			return
		}

		key, err := c.store.Put(r.Context(), input)
		if err != nil {
			logger.Error().Err(err).Str("file_name", input.Name).Msg("failed to store file")
			writeError(w, statusCode(err), err)
			return
		}
		c.uploadedBytes.Add(r.Context(), int64(len(input.Bytes)))

		logger.Info().
			Str("key", key).
			Str("file_name", input.Name).
			Str("owner", input.Owner).
			Int("file_size", len(input.Bytes)).
			Msg("File Uploaded")

		writeJSON(w, http.StatusOK, PutResponse{ID: key})
	}
}

func decodeFileInput(mr *multipart.Reader) (store.FileInput, error) {
	var input store.FileInput
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return input, nil
		}
		if err != nil {
			return store.FileInput{}, decodeError(err)
		}

		field := part.FormName()
		if field != NameField && field != OwnerField && field != BytesField {
			part.Close()
			continue
		}
		buf, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return store.FileInput{}, decodeError(err)
		}

		switch field {
		case NameField, OwnerField:
			if !utf8.Valid(buf) {
				return store.FileInput{}, fmt.Errorf("%w: field %q is not valid utf-8", store.ErrDecode, field)
			}
			if field == NameField {
				input.Name = string(buf)
			} else {
				input.Owner = string(buf)
			}
		case BytesField:
			input.Bytes = buf
		}
	}
}

func decodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return err
	}
	return fmt.Errorf("%w: reading multipart body: %w", store.ErrDecode, err)
}

// Get streams the stored content of the file named by the id path variable.
func (c *Controller) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := log.Ctx(ctx)
		key := mux.Vars(r)["id"]

		rc, err := c.store.Get(ctx, key)
		if err != nil {
			logger.Debug().Err(err).Str("key", key).Msg("failed to open file")
			writeError(w, statusCode(err), err)
			return
		}
		defer rc.Close()

		contentType := defaultContentType
		fm, err := c.store.Info(ctx, key)
		if err != nil {
			logger.Warn().Err(err).Str("key", key).Msg("failed to read metadata for download headers")
		}
		if fm != nil {
			if fm.MIME != "" {
				contentType = fm.MIME
			}
			if fm.Name != "" {
				w.Header().Set(ContentDispositionHeader,
					mime.FormatMediaType("attachment", map[string]string{"filename": fm.Name}))
			}
		}
		// the server WriteTimeout would cut a large download off mid-body
		if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
			logger.Debug().Err(err).Str("key", key).Msg("write deadline is not adjustable")
		}
		w.Header().Set(ContentTypeHeader, contentType)
		w.WriteHeader(http.StatusOK)

		n, err := io.Copy(w, rc)
		c.downloadedBytes.Add(ctx, n)
		if err != nil {
			// the status line is already on the wire
			logger.Error().Err(err).Str("key", key).Int64("written_size", n).Msg("error streaming the file")
			return
		}
		logger.Debug().Str("key", key).Int64("written_size", n).Msg("File Downloaded")
	}
}

// Info writes the metadata record of the file named by the id path variable,
// or null when there is none.
func (c *Controller) Info() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["id"]
		fm, err := c.store.Info(r.Context(), key)
		if err != nil {
			log.Ctx(r.Context()).Debug().Err(err).Str("key", key).Msg("failed to read metadata")
			writeError(w, statusCode(err), err)
			return
		}
		writeJSON(w, http.StatusOK, fm)
	}
}

func statusCode(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrInvalidKey), errors.Is(err, store.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnknownFileType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

type cError struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, cError{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set(ContentTypeHeader, "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	. "github.com/imrenagi/go-file-store/api/v1"
	"github.com/imrenagi/go-file-store/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore keeps everything in memory and assigns 24 hex digit keys.
type fakeStore struct {
	sync.Mutex
	blobs   map[string][]byte
	files   map[string]store.FileMetadata
	inputs  []store.FileInput
	seq     int
	putErr  error
	infoErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		blobs: make(map[string][]byte),
		files: make(map[string]store.FileMetadata),
	}
}

func (s *fakeStore) Put(ctx context.Context, f store.FileInput) (string, error) {
	s.Lock()
	defer s.Unlock()
	s.inputs = append(s.inputs, f)
	if s.putErr != nil {
		return "", s.putErr
	}
	mimeType, ok := store.DetectMIME(f.Bytes)
	if !ok {
		return "", store.ErrUnknownFileType
	}
	s.seq++
	key := fmt.Sprintf("%024x", s.seq)
	s.blobs[key] = f.Bytes
	s.files[key] = store.FileMetadata{
		Name:     f.Name,
		MIME:     mimeType,
		Owner:    f.Owner,
		Key:      key,
		CreateAt: time.Date(2022, 10, 28, 13, 51, 36, 0, time.UTC).Format(time.RFC3339Nano),
	}
	return key, nil
}

func (s *fakeStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.Lock()
	defer s.Unlock()
	if len(key) != 24 {
		return nil, store.ErrInvalidKey
	}
	b, ok := s.blobs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *fakeStore) Info(ctx context.Context, key string) (*store.FileMetadata, error) {
	s.Lock()
	defer s.Unlock()
	if s.infoErr != nil {
		return nil, s.infoErr
	}
	if len(key) != 24 {
		return nil, store.ErrInvalidKey
	}
	fm, ok := s.files[key]
	if !ok {
		return nil, nil
	}
	return &fm, nil
}

func newRouter(ctrl Controller) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", ctrl.Put()).Methods(http.MethodPost)
	router.HandleFunc("/{id}", ctrl.Get()).Methods(http.MethodGet)
	router.HandleFunc("/{id}/info", ctrl.Info()).Methods(http.MethodGet)
	return router
}

type field struct {
	name  string
	value []byte
}

func newUploadRequest(t *testing.T, fields ...field) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range fields {
		fw, err := mw.CreateFormField(f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.value)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set(ContentTypeHeader, mw.FormDataContentType())
	return req
}

func decodeMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Message
}

func TestPut(t *testing.T) {
	t.Run("A multipart upload with name, owner and bytes responds with the new id", func(t *testing.T) {
		s := newFakeStore()
		router := newRouter(NewController(s))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newUploadRequest(t,
			field{NameField, []byte("test.txt")},
			field{OwnerField, []byte("alice")},
			field{BytesField, []byte("hello world")},
		))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get(ContentTypeHeader))
		var resp PutResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.ID, 24)

		require.Len(t, s.inputs, 1)
		assert.Equal(t, store.FileInput{Name: "test.txt", Owner: "alice", Bytes: []byte("hello world")}, s.inputs[0])
	})

	t.Run("Missing name and owner fields default to empty strings and unknown fields are ignored", func(t *testing.T) {
		s := newFakeStore()
		router := newRouter(NewController(s))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newUploadRequest(t,
			field{"comment", []byte("ignored")},
			field{BytesField, []byte("hello world")},
		))

		assert.Equal(t, http.StatusOK, w.Code)
		require.Len(t, s.inputs, 1)
		assert.Empty(t, s.inputs[0].Name)
		assert.Empty(t, s.inputs[0].Owner)
		assert.Equal(t, []byte("hello world"), s.inputs[0].Bytes)
	})

	t.Run("A name field that is not valid utf-8 fails the whole request with 400", func(t *testing.T) {
		s := newFakeStore()
		router := newRouter(NewController(s))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newUploadRequest(t,
			field{NameField, []byte{0xff, 0xfe, 0xfd}},
			field{BytesField, []byte("hello world")},
		))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeMessage(t, w), "utf-8")
		assert.Empty(t, s.inputs)
	})

	t.Run("A body that is not multipart is rejected with 400", func(t *testing.T) {
		s := newFakeStore()
		router := newRouter(NewController(s))

		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello world"))
		req.Header.Set(ContentTypeHeader, "text/plain")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, s.inputs)
	})

	t.Run("Content the sniffer cannot classify is rejected with 415", func(t *testing.T) {
		s := newFakeStore()
		router := newRouter(NewController(s))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newUploadRequest(t, field{NameField, []byte("empty.bin")}))

		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
		assert.Equal(t, store.ErrUnknownFileType.Error(), decodeMessage(t, w))
		assert.Empty(t, s.files)
	})

	t.Run("Backend failures are reported with 500 and the error message", func(t *testing.T) {
		s := newFakeStore()
		s.putErr = fmt.Errorf("%w: uploading blob: %w", store.ErrBackend, errors.New("connection refused"))
		router := newRouter(NewController(s))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newUploadRequest(t, field{BytesField, []byte("hello world")}))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, decodeMessage(t, w), "connection refused")
	})

	t.Run("A body larger than the upload limit is rejected with 413", func(t *testing.T) {
		s := newFakeStore()
		router := newRouter(NewController(s, WithMaxUploadSize(256)))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, newUploadRequest(t, field{BytesField, bytes.Repeat([]byte("a"), 4096)}))

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Empty(t, s.inputs)
	})
}

// deadlineRecorder records the write deadlines set through an
// http.ResponseController.
type deadlineRecorder struct {
	*httptest.ResponseRecorder
	deadlines         []time.Time
	clearedBeforeBody bool
}

func (d *deadlineRecorder) SetWriteDeadline(t time.Time) error {
	d.deadlines = append(d.deadlines, t)
	d.clearedBeforeBody = t.IsZero() && d.Body.Len() == 0
	return nil
}

func TestGet(t *testing.T) {
	t.Run("The stored bytes are returned with the content type and file name from metadata", func(t *testing.T) {
		s := newFakeStore()
		key, err := s.Put(context.Background(), store.FileInput{Name: "test.txt", Owner: "alice", Bytes: []byte("hello world")})
		require.NoError(t, err)
		router := newRouter(NewController(s))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/"+key, nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hello world", w.Body.String())
		assert.Equal(t, "text/plain", w.Header().Get(ContentTypeHeader))
		assert.Equal(t, `attachment; filename=test.txt`, w.Header().Get(ContentDispositionHeader))
	})

	t.Run("The server write deadline is lifted before the body is streamed", func(t *testing.T) {
		s := newFakeStore()
		key, err := s.Put(context.Background(), store.FileInput{Name: "test.txt", Bytes: []byte("hello world")})
		require.NoError(t, err)
		router := newRouter(NewController(s))

		w := &deadlineRecorder{ResponseRecorder: httptest.NewRecorder()}
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/"+key, nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hello world", w.Body.String())
		require.Len(t, w.deadlines, 1)
		assert.True(t, w.deadlines[0].IsZero())
		assert.True(t, w.clearedBeforeBody)
	})

	t.Run("Bytes are still served when metadata cannot be read", func(t *testing.T) {
		s := newFakeStore()
		key, err := s.Put(context.Background(), store.FileInput{Name: "test.txt", Bytes: []byte("hello world")})
		require.NoError(t, err)
		s.infoErr = store.ErrBackend
		router := newRouter(NewController(s))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/"+key, nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "hello world", w.Body.String())
		assert.Equal(t, "application/octet-stream", w.Header().Get(ContentTypeHeader))
	})

	t.Run("An unknown key responds with 404", func(t *testing.T) {
		router := newRouter(NewController(newFakeStore()))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/635bdd289395ef004c776291", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NotEmpty(t, decodeMessage(t, w))
	})

	t.Run("A malformed key responds with 400", func(t *testing.T) {
		router := newRouter(NewController(newFakeStore()))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abc", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestInfo(t *testing.T) {
	t.Run("The metadata record is returned as JSON", func(t *testing.T) {
		s := newFakeStore()
		key, err := s.Put(context.Background(), store.FileInput{Name: "test.txt", Owner: "alice", Bytes: []byte("hello world")})
		require.NoError(t, err)
		router := newRouter(NewController(s))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/"+key+"/info", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, fmt.Sprintf(`{
			"name": "test.txt",
			"mime": "text/plain",
			"owner": "alice",
			"key": %q,
			"create_at": "2022-10-28T13:51:36Z"
		}`, key), w.Body.String())
	})

	t.Run("A key without a record responds with null rather than an error", func(t *testing.T) {
		router := newRouter(NewController(newFakeStore()))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/635bdd289395ef004c776291/info", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "null", w.Body.String())
	})

	t.Run("A malformed key responds with 400", func(t *testing.T) {
		router := newRouter(NewController(newFakeStore()))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abc/info", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Reading the same record twice yields byte-identical responses", func(t *testing.T) {
		s := newFakeStore()
		key, err := s.Put(context.Background(), store.FileInput{Name: "a.txt", Bytes: []byte("hello world")})
		require.NoError(t, err)
		router := newRouter(NewController(s))

		w1 := httptest.NewRecorder()
		router.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/"+key+"/info", nil))
		w2 := httptest.NewRecorder()
		router.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/"+key+"/info", nil))

		assert.Equal(t, w1.Body.Bytes(), w2.Body.Bytes())
	})
}

func TestUploadThenFetch(t *testing.T) {
	router := newRouter(NewController(newFakeStore()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, newUploadRequest(t,
		field{NameField, []byte("test.txt")},
		field{OwnerField, []byte("alice")},
		field{BytesField, []byte("hello world")},
	))
	require.Equal(t, http.StatusOK, w.Code)
	var resp PutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/"+resp.ID+"/info", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var fm store.FileMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fm))
	assert.Equal(t, "test.txt", fm.Name)
	assert.Equal(t, "text/plain", fm.MIME)
	assert.Equal(t, "alice", fm.Owner)
	assert.Equal(t, resp.ID, fm.Key)
	_, err := time.Parse(time.RFC3339Nano, fm.CreateAt)
	assert.NoError(t, err)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/"+resp.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())
}

func TestWeb(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	Web().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html", w.Header().Get(ContentTypeHeader))
	assert.Contains(t, w.Body.String(), "form.append('bytes', file)")
}

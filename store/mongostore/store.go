// Package mongostore implements store.Store on top of MongoDB: file content
// goes to a GridFS bucket and metadata records to a regular collection.
package mongostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/imrenagi/go-file-store/store"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/imrenagi/go-file-store/store/mongostore")

// Bucket is the chunked blob store holding file content.
type Bucket interface {
	Upload(ctx context.Context, name string, r io.Reader) (primitive.ObjectID, error)
	// OpenDownloadStream returns gridfs.ErrFileNotFound for an unknown id.
	OpenDownloadStream(ctx context.Context, id primitive.ObjectID) (io.ReadCloser, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// Collection is the document store holding metadata records.
type Collection interface {
	InsertOne(ctx context.Context, fm store.FileMetadata) error
	// FindOne returns nil without error when no record has the key.
	FindOne(ctx context.Context, key string) (*store.FileMetadata, error)
}

var (
	defaultBucketName     = "fs"
	defaultCollectionName = "files"
)

type Options struct {
	BucketName     string
	CollectionName string
	Sniffer        store.Sniffer
	Now            func() time.Time
}

type Option func(*Options)

func WithBucketName(name string) Option {
	return func(o *Options) {
		o.BucketName = name
	}
}

func WithCollectionName(name string) Option {
	return func(o *Options) {
		o.CollectionName = name
	}
}

func WithSniffer(s store.Sniffer) Option {
	return func(o *Options) {
		o.Sniffer = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

func newOptions(opts []Option) Options {
	o := Options{
		BucketName:     defaultBucketName,
		CollectionName: defaultCollectionName,
		Sniffer:        store.DetectMIME,
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is safe for concurrent use. It holds no lock of its own: the driver
// handles behind Bucket and Collection are shared across requests.
type Store struct {
	bucket Bucket
	files  Collection
	sniff  store.Sniffer
	now    func() time.Time
}

// New builds a Store over the given collaborators.
func New(bucket Bucket, files Collection, opts ...Option) *Store {
	o := newOptions(opts)
	return &Store{
		bucket: bucket,
		files:  files,
		sniff:  o.Sniffer,
		now:    o.Now,
	}
}

// Open builds a Store over db, creating the metadata indexes if needed.
func Open(ctx context.Context, db *mongo.Database, opts ...Option) (*Store, error) {
	o := newOptions(opts)
	bucket, err := NewGridFSBucket(db, o.BucketName)
	if err != nil {
		return nil, err
	}
	files := NewFileCollection(db.Collection(o.CollectionName))
	if err := files.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes on %q: %w", o.CollectionName, err)
	}
	return New(bucket, files, opts...), nil
}

// Put classifies the content, writes the blob and then the metadata record.
// When the record cannot be written the blob is removed again.
func (s *Store) Put(ctx context.Context, f store.FileInput) (string, error) {
	ctx, span := tracer.Start(ctx, "mongostore.Put", trace.WithAttributes(
		attribute.String("file.name", f.Name),
		attribute.Int("file.size", len(f.Bytes)),
	))
	defer span.End()
	logger := zerolog.Ctx(ctx)

	mimeType, ok := s.sniff(f.Bytes)
	if !ok {
		return "", fail(span, store.ErrUnknownFileType)
	}

	id, err := s.bucket.Upload(ctx, f.Name, bytes.NewReader(f.Bytes))
	if err != nil {
		return "", fail(span, fmt.Errorf("%w: uploading blob: %w", store.ErrBackend, err))
	}
	key := id.Hex()
	span.SetAttributes(attribute.String("file.key", key))

	fm := store.FileMetadata{
		Name:     f.Name,
		MIME:     mimeType,
		Owner:    f.Owner,
		Key:      key,
		CreateAt: s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.files.InsertOne(ctx, fm); err != nil {
		if derr := s.bucket.Delete(context.WithoutCancel(ctx), id); derr != nil {
			logger.Error().Err(derr).Str("key", key).Msg("failed to remove blob without metadata")
		}
		return "", fail(span, fmt.Errorf("%w: inserting metadata: %w", store.ErrBackend, err))
	}

	logger.Debug().
		Str("key", key).
		Str("mime", mimeType).
		Int("size", len(f.Bytes)).
		Msg("file stored")
	return key, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "mongostore.Get", trace.WithAttributes(attribute.String("file.key", key)))
	defer span.End()

	id, err := parseKey(key)
	if err != nil {
		return nil, fail(span, err)
	}
	rc, err := s.bucket.OpenDownloadStream(ctx, id)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, fail(span, fmt.Errorf("%w: %s", store.ErrNotFound, key))
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("%w: opening download stream: %w", store.ErrBackend, err))
	}
	return rc, nil
}

func (s *Store) Info(ctx context.Context, key string) (*store.FileMetadata, error) {
	ctx, span := tracer.Start(ctx, "mongostore.Info", trace.WithAttributes(attribute.String("file.key", key)))
	defer span.End()

	if _, err := parseKey(key); err != nil {
		return nil, fail(span, err)
	}
	fm, err := s.files.FindOne(ctx, key)
	if err != nil {
		return nil, fail(span, fmt.Errorf("%w: finding metadata: %w", store.ErrBackend, err))
	}
	return fm, nil
}

// parseKey accepts only the lower-case hex form Put issues, so Get and Info
// resolve exactly the same set of keys.
func parseKey(key string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(key)
	if err != nil || id.Hex() != key {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", store.ErrInvalidKey, key)
	}
	return id, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

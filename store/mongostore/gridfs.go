package mongostore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSBucket adapts a gridfs.Bucket to Bucket.
//
// Bucket.UploadFromStream reuses a read buffer owned by the bucket, so uploads
// go through OpenUploadStream, which gives every call its own stream. The
// gridfs API predates context support: deadlines are carried over with
// SetWriteDeadline/SetReadDeadline and cancellation is checked between chunks.
type GridFSBucket struct {
	bucket    *gridfs.Bucket
	chunkSize int
}

func NewGridFSBucket(db *mongo.Database, name string) (*GridFSBucket, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(name))
	if err != nil {
		return nil, fmt.Errorf("opening gridfs bucket %q: %w", name, err)
	}
	return &GridFSBucket{
		bucket:    bucket,
		chunkSize: int(gridfs.DefaultChunkSize),
	}, nil
}

// Upload writes r as a new GridFS file named name and returns its id. When
// ctx is done before the upload completes, the chunks written so far are
// removed.
func (b *GridFSBucket) Upload(ctx context.Context, name string, r io.Reader) (primitive.ObjectID, error) {
	us, err := b.bucket.OpenUploadStream(name)
	if err != nil {
		return primitive.NilObjectID, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := us.SetWriteDeadline(deadline); err != nil {
			_ = us.Abort()
			return primitive.NilObjectID, err
		}
	}

	buf := make([]byte, b.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			_ = us.Abort()
			return primitive.NilObjectID, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := us.Write(buf[:n]); err != nil {
				_ = us.Abort()
				return primitive.NilObjectID, err
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			_ = us.Abort()
			return primitive.NilObjectID, rerr
		}
	}
	if err := us.Close(); err != nil {
		return primitive.NilObjectID, err
	}

	id, ok := us.FileID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, fmt.Errorf("unexpected gridfs file id type %T", us.FileID)
	}
	return id, nil
}

// OpenDownloadStream returns gridfs.ErrFileNotFound when no file has the id.
func (b *GridFSBucket) OpenDownloadStream(ctx context.Context, id primitive.ObjectID) (io.ReadCloser, error) {
	ds, err := b.bucket.OpenDownloadStream(id)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := ds.SetReadDeadline(deadline); err != nil {
			_ = ds.Close()
			return nil, err
		}
	}
	return &downloadStream{ctx: ctx, ds: ds}, nil
}

func (b *GridFSBucket) Delete(ctx context.Context, id primitive.ObjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.bucket.Delete(id)
}

type downloadStream struct {
	ctx context.Context
	ds  *gridfs.DownloadStream
}

func (d *downloadStream) Read(p []byte) (int, error) {
	if err := d.ctx.Err(); err != nil {
		return 0, err
	}
	return d.ds.Read(p)
}

func (d *downloadStream) Close() error {
	return d.ds.Close()
}

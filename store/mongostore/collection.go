package mongostore

import (
	"context"
	"errors"

	"github.com/imrenagi/go-file-store/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const keyIndexName = "key_unique"

// FileCollection stores metadata records in a MongoDB collection.
type FileCollection struct {
	coll *mongo.Collection
}

func NewFileCollection(coll *mongo.Collection) *FileCollection {
	return &FileCollection{coll: coll}
}

// EnsureIndexes creates the unique index on key. It is a no-op when the
// index already exists.
func (c *FileCollection) EnsureIndexes(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName(keyIndexName),
	})
	return err
}

func (c *FileCollection) InsertOne(ctx context.Context, fm store.FileMetadata) error {
	_, err := c.coll.InsertOne(ctx, fm)
	return err
}

// FindOne returns nil without error when no record has the key.
func (c *FileCollection) FindOne(ctx context.Context, key string) (*store.FileMetadata, error) {
	var fm store.FileMetadata
	err := c.coll.FindOne(ctx, bson.M{"key": key}).Decode(&fm)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fm, nil
}

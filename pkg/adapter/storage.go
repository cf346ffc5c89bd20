package adapter

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// Storage implements Archive on a Cloud Storage bucket
type Storage struct {
	bucketName string
	prefix     string
	client     *storage.Client
}

// NewStorage creates a new Cloud Storage client. prefix is prepended to every key.
func NewStorage(ctx context.Context, bucketName, prefix string) (*Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &Storage{
		bucketName: bucketName,
		prefix:     prefix,
		client:     client,
	}, nil
}

func (s *Storage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	obj := s.client.Bucket(s.bucketName).Object(s.prefix + key)
	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	return w, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

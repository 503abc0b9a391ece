// Package minio implements storage.Client on an S3-compatible bucket.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/storytrim/server/internal/config"
	"github.com/storytrim/server/internal/storage"
)

// Client stores objects in a single bucket.
type Client struct {
	client *minio.Client
	bucket string
}

// NewClient connects to the endpoint and, when configured, creates the bucket.
func NewClient(ctx context.Context, cfg config.Storage) (*Client, error) {
	if cfg.MinIOEndpoint == "" {
		return nil, errors.New("minio endpoint is required")
	}
	if cfg.MinIOAccessKey == "" || cfg.MinIOSecretKey == "" {
		return nil, errors.New("minio access key and secret key are required")
	}
	if cfg.MinIOBucket == "" {
		return nil, errors.New("minio bucket is required")
	}

	mc, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
		Secure: cfg.MinIOUseSSL,
		Region: cfg.MinIORegion,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if cfg.MinIOAutoCreateBucket {
		exists, err := mc.BucketExists(ctx, cfg.MinIOBucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s: %w", cfg.MinIOBucket, err)
		}
		if !exists {
			err := mc.MakeBucket(ctx, cfg.MinIOBucket, minio.MakeBucketOptions{Region: cfg.MinIORegion})
			if err != nil {
				return nil, fmt.Errorf("create bucket %s: %w", cfg.MinIOBucket, err)
			}
		}
	}

	return &Client{client: mc, bucket: cfg.MinIOBucket}, nil
}

func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if key == "" {
		return errors.New("object key is required")
	}
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	_, err := c.client.PutObject(ctx, c.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, mapError(err)
	}
	return obj, nil
}

func (c *Client) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	return &storage.ObjectInfo{Key: key, Size: info.Size, ModifiedAt: info.LastModified}, nil
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
}

func mapError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return storage.ErrNotFound
	}
	return err
}

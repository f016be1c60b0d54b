// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package objectstore

import (
	"context"
	"io"
	"net/url"
	"time"

	minio "github.com/minio/minio-go"
)

// Client is the narrow object-store surface the gateway needs.
type Client interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType, cacheControl string) error
	PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, key string) error
}

// minioClient adapts a minio connection to the Client interface.
type minioClient struct {
	client *minio.Client
	bucket string
}

// DialMinio connects to an S3-compatible object store.
func DialMinio(config Config) (Client, error) {
	client, err := minio.NewWithRegion(config.Endpoint, config.AccessKeyID, config.SecretAccessKey, config.UseSSL, config.Region)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &minioClient{client: client, bucket: config.Bucket}, nil
}

func (mc *minioClient) Put(ctx context.Context, key string, body io.Reader, size int64, contentType, cacheControl string) error {
	_, err := mc.client.PutObjectWithContext(ctx, mc.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
	})
	return Error.Wrap(err)
}

func (mc *minioClient) PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	signed, err := mc.client.PresignedGetObject(mc.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", Error.Wrap(err)
	}
	return signed.String(), nil
}

func (mc *minioClient) Remove(ctx context.Context, key string) error {
	return Error.Wrap(mc.client.RemoveObject(mc.bucket, key))
}

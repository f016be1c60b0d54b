// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package objectstore uploads photo variants to an S3-compatible
// store and hands out CDN or signed URLs. Every non-free store call
// goes through the cost controller.
package objectstore

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/barhop/barhop/catalog/costcontrol"
	"github.com/barhop/barhop/internal/sync2"
	"github.com/barhop/barhop/storage"
)

var (
	// Error is the default objectstore errs class.
	Error = errs.Class("objectstore")

	mon = monkit.Package()
)

const (
	cacheControlImmutable = "public, max-age=31536000, immutable"
	signedURLCachePrefix  = "signedurl/"
	signedURLCacheSlack   = time.Minute
)

// CDNConfig describes the optional CDN in front of the bucket.
type CDNConfig struct {
	Enabled  bool   `help:"prefer deterministic CDN urls over signed urls" default:"false"`
	BaseURL  string `help:"public base url of the CDN distribution" default:""`
	ZoneID   string `help:"CDN zone identifier used for purging" default:""`
	APIToken string `help:"CDN api token used for purging" default:""`
	Provider string `help:"CDN provider" default:"cloudflare"`
}

// Config contains configurable values for the gateway.
type Config struct {
	Endpoint        string `help:"object store endpoint" default:"s3.amazonaws.com"`
	AccessKeyID     string `help:"object store access key id" default:""`
	SecretAccessKey string `help:"object store secret access key" default:""`
	Region          string `help:"object store region" default:"us-east-1"`
	Bucket          string `help:"bucket holding photo objects" default:"barhop-photos"`
	UseSSL          bool   `help:"connect to the object store over TLS" default:"true"`

	SignedURLTTL     time.Duration `help:"lifetime of signed urls" default:"15m"`
	InterUploadDelay time.Duration `help:"pause between variant uploads" default:"200ms"`
	BatchSize        int           `help:"keys per signed-url batch" default:"10"`
	InterBatchDelay  time.Duration `help:"pause between signed-url batches" default:"500ms"`

	CDN CDNConfig
}

// Gateway is the object storage gateway.
type Gateway struct {
	log    *zap.Logger
	client Client
	cost   *costcontrol.Service
	cache  storage.KeyValueStore
	purger Purger
	config Config
}

// NewGateway assembles the gateway. The cache holds signed URLs and
// may be redis-backed or in-memory.
func NewGateway(log *zap.Logger, client Client, cost *costcontrol.Service, cache storage.KeyValueStore, purger Purger, config Config) *Gateway {
	if purger == nil {
		purger = NoopPurger{}
	}
	return &Gateway{
		log:    log,
		client: client,
		cost:   cost,
		cache:  cache,
		purger: purger,
		config: config,
	}
}

// UploadVariant processes and uploads one variant, returning its
// storage key.
func (gateway *Gateway) UploadVariant(ctx context.Context, data []byte, businessID, photoID string, variant Variant) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	processed, _, _, err := ProcessVariant(data, variant)
	if err != nil {
		return "", err
	}

	key := Key(businessID, photoID, variant)
	err = gateway.cost.CheckAndExecute(ctx, costcontrol.Request{
		Type:           costcontrol.OpPut,
		EstimatedBytes: int64(len(processed)),
		BusinessID:     businessID,
		PhotoID:        photoID,
		StorageKey:     key,
	}, func(ctx context.Context) (int64, error) {
		err := gateway.client.Put(ctx, key, bytes.NewReader(processed), int64(len(processed)), "image/jpeg", cacheControlImmutable)
		return int64(len(processed)), err
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// UploadAllVariants uploads the full variant set, falling back to the
// essentials subset when the projected cost would overrun the
// remaining budget. A denial partway through returns the keys
// uploaded so far together with the denial.
func (gateway *Gateway) UploadAllVariants(ctx context.Context, data []byte, businessID, photoID string) (keys map[Variant]string, err error) {
	defer mon.Task()(&ctx)(&err)

	variants := AllVariants

	// variants never exceed the source size, so this over-estimates
	projected := float64(len(variants)) * gateway.cost.EstimateCost(costcontrol.OpPut, int64(len(data)))
	remaining, err := gateway.cost.Remaining(ctx)
	if err != nil {
		return nil, err
	}
	if projected > remaining {
		gateway.log.Info("falling back to essential variants",
			zap.String("photoID", photoID),
			zap.Float64("projected", projected),
			zap.Float64("remaining", remaining))
		variants = EssentialVariants
	}

	keys = make(map[Variant]string, len(variants))
	for i, variant := range variants {
		if i > 0 {
			if !sync2.Sleep(ctx, gateway.config.InterUploadDelay) {
				return keys, ctx.Err()
			}
		}
		key, err := gateway.UploadVariant(ctx, data, businessID, photoID, variant)
		if err != nil {
			return keys, err
		}
		keys[variant] = key
	}
	return keys, nil
}

// URL returns a URL for the key. With the CDN enabled and preferred
// this is a deterministic URL and free; otherwise a signed URL is
// produced through a costed GET and cached until shortly before
// expiry.
func (gateway *Gateway) URL(ctx context.Context, key string, preferCDN bool) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if gateway.config.CDN.Enabled && preferCDN {
		return gateway.cdnURL(key), nil
	}

	cacheKey := []byte(signedURLCachePrefix + key)
	if cached, err := gateway.cache.Get(ctx, cacheKey); err == nil {
		return string(cached), nil
	} else if !storage.ErrKeyNotFound.Has(err) {
		gateway.log.Warn("signed url cache read failed", zap.Error(err))
	}

	var signed string
	err = gateway.cost.CheckAndExecute(ctx, costcontrol.Request{
		Type:       costcontrol.OpGet,
		StorageKey: key,
	}, func(ctx context.Context) (int64, error) {
		var err error
		signed, err = gateway.client.PresignedGet(ctx, key, gateway.config.SignedURLTTL)
		return 0, err
	})
	if err != nil {
		return "", err
	}

	ttl := gateway.config.SignedURLTTL - signedURLCacheSlack
	if ttl > 0 {
		if err := gateway.cache.Put(ctx, cacheKey, []byte(signed), ttl); err != nil {
			gateway.log.Warn("signed url cache write failed", zap.Error(err))
		}
	}
	return signed, nil
}

// BatchURLs maps keys to URLs. With the CDN this is free; without it
// keys are signed in small batches with a pause in between to respect
// the token bucket.
func (gateway *Gateway) BatchURLs(ctx context.Context, keys []string, preferCDN bool) (_ map[string]string, err error) {
	defer mon.Task()(&ctx)(&err)

	out := make(map[string]string, len(keys))
	if gateway.config.CDN.Enabled && preferCDN {
		for _, key := range keys {
			out[key] = gateway.cdnURL(key)
		}
		return out, nil
	}

	batchSize := gateway.config.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	for start := 0; start < len(keys); start += batchSize {
		if start > 0 {
			if !sync2.Sleep(ctx, gateway.config.InterBatchDelay) {
				return out, ctx.Err()
			}
		}
		end := start + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		for _, key := range keys[start:end] {
			url, err := gateway.URL(ctx, key, false)
			if err != nil {
				return out, err
			}
			out[key] = url
		}
	}
	return out, nil
}

// Delete removes the object and purges its CDN URL best-effort.
func (gateway *Gateway) Delete(ctx context.Context, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = gateway.cost.CheckAndExecute(ctx, costcontrol.Request{
		Type:       costcontrol.OpDelete,
		StorageKey: key,
	}, func(ctx context.Context) (int64, error) {
		return 0, gateway.client.Remove(ctx, key)
	})
	if err != nil {
		return err
	}

	if err := gateway.cache.Delete(ctx, []byte(signedURLCachePrefix+key)); err != nil {
		gateway.log.Warn("signed url cache delete failed", zap.Error(err))
	}

	if gateway.config.CDN.Enabled {
		if err := gateway.purger.Purge(ctx, []string{gateway.cdnURL(key)}); err != nil {
			gateway.log.Warn("cdn purge failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

func (gateway *Gateway) cdnURL(key string) string {
	return strings.TrimSuffix(gateway.config.CDN.BaseURL, "/") + "/" + key
}

/*
Copyright 2025 The Hydrosim Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logstore archives build logs to S3-compatible object storage.
// Build logs are write-once: the orchestrator guards uploads with the
// build's log_object_key column.
package logstore

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	portalerrors "github.com/hjunqq/hydrosim-platform/pkg/portal/errors"
)

// Config for the object store connection. An empty Endpoint disables
// archiving.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Secure is the fallback when the endpoint carries no scheme.
	Secure bool
}

// Store wraps one bucket. A nil *Store is valid and reports
// DependencyUnavailable on use, so callers need no nil checks of their
// own config.
type Store struct {
	client *minio.Client
	bucket string
}

// ObjectKey is the canonical location of one build's log.
func ObjectKey(buildID int64, jobName string) string {
	return "builds/" + strconv.FormatInt(buildID, 10) + "/" + jobName + ".log"
}

// NormalizeEndpoint strips the scheme off an endpoint URL, deriving the
// secure flag from it. Scheme-less endpoints keep the passed default.
func NormalizeEndpoint(endpoint string, defaultSecure bool) (string, bool) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		parsed, err := url.Parse(endpoint)
		if err == nil && parsed.Host != "" {
			return parsed.Host, parsed.Scheme == "https"
		}
	}
	return endpoint, defaultSecure
}

// New connects to the object store, or returns nil when no endpoint is
// configured.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	host, secure := NormalizeEndpoint(cfg.Endpoint, cfg.Secure)
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connecting to object store")
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) require() error {
	if s == nil || s.client == nil {
		return portalerrors.New(portalerrors.DependencyUnavailable, "Object store is not configured")
	}
	return nil
}

// Enabled reports whether archiving is available.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

// EnsureBucket creates the bucket if it does not exist. Called once at
// startup.
func (s *Store) EnsureBucket(ctx context.Context) error {
	if err := s.require(); err != nil {
		return err
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrap(err, "checking bucket "+s.bucket)
	}
	if exists {
		return nil
	}
	return errors.Wrap(s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}), "creating bucket "+s.bucket)
}

// Put uploads a text object.
func (s *Store) Put(ctx context.Context, key, content string) error {
	if err := s.require(); err != nil {
		return err
	}
	body := []byte(content)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	return errors.Wrap(err, "uploading "+key)
}

// Get downloads an object as text.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := s.require(); err != nil {
		return "", err
	}
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", errors.Wrap(err, "fetching "+key)
	}
	defer object.Close()
	content, err := io.ReadAll(object)
	if err != nil {
		return "", errors.Wrap(err, "reading "+key)
	}
	return string(content), nil
}

// PresignedURL returns a time-limited download link.
func (s *Store) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := s.require(); err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", errors.Wrap(err, "presigning "+key)
	}
	return u.String(), nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package blobstore issues time-limited access URLs for source documents.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrInvalidURI is returned for storage URIs that are not gs://bucket/object.
var ErrInvalidURI = errors.New("invalid storage URI")

// Presigner issues temporary GET URLs for stored objects.
type Presigner interface {
	PresignGet(ctx context.Context, uri string, expiry time.Duration) (string, error)
}

// ParseURI splits gs://bucket/path/to/object into bucket and object name.
func ParseURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return bucket, object, nil
}

type signFunc func(bucket, object string, opts *storage.SignedURLOptions) (string, error)

// GCSPresigner signs V4 GET URLs for Google Cloud Storage objects.
type GCSPresigner struct {
	client *storage.Client
	sign   signFunc
}

var _ Presigner = (*GCSPresigner)(nil)

// NewGCSPresigner creates a presigner from a service account key file.
//
// # Description
//
// The storage client detects the signing identity and private key from the
// credentials file, so signing happens locally without an IAM round trip.
//
// # Inputs
//
//   - ctx: Used only for client construction.
//   - credentialsFile: Path to a service account JSON key.
//
// # Outputs
//
//   - *GCSPresigner: Close it on shutdown.
//   - error: Non-nil if the key is missing or the client cannot be built.
func NewGCSPresigner(ctx context.Context, credentialsFile string) (*GCSPresigner, error) {
	if _, err := os.Stat(credentialsFile); err != nil {
		return nil, fmt.Errorf("service account key not found at %s: %w", credentialsFile, err)
	}
	client, err := storage.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSPresigner{
		client: client,
		sign: func(bucket, object string, opts *storage.SignedURLOptions) (string, error) {
			return client.Bucket(bucket).SignedURL(object, opts)
		},
	}, nil
}

// NewStaticKeyPresigner signs with an explicit service account email and
// PEM private key instead of a storage client.
func NewStaticKeyPresigner(accessID string, privateKey []byte) *GCSPresigner {
	return &GCSPresigner{
		sign: func(bucket, object string, opts *storage.SignedURLOptions) (string, error) {
			opts.GoogleAccessID = accessID
			opts.PrivateKey = privateKey
			return storage.SignedURL(bucket, object, opts)
		},
	}
}

// PresignGet implements Presigner.
func (p *GCSPresigner) PresignGet(ctx context.Context, uri string, expiry time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	signed, err := p.sign(bucket, object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", uri, err)
	}
	return signed, nil
}

// Close releases the storage client, if any.
func (p *GCSPresigner) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

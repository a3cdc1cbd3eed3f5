// Package staging holds result artifacts in an S3 bucket keyed by request id.
// Each object is written exactly once, by the worker or forwarder that
// completed the request, and deleted exactly once, by the garbage collector
// or by revocation cleanup.
package staging

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/aws"
	"github.com/imrishuroy/go-polytope-gateway/internal/request"
)

// Object describes one staged artifact.
type Object struct {
	RequestID    string
	Size         int64
	LastModified float64 // epoch seconds
}

// PutResult reports where an artifact landed and its integrity metadata.
type PutResult struct {
	URL           string
	ContentLength int64
	MD5           string
}

// Staging wraps an S3 client, a bucket and the public URL prefix under which
// objects are served.
type Staging struct {
	client    aws.S3API
	bucket    string
	urlPrefix string
	log       zerolog.Logger
}

// New returns a Staging bound to a bucket. urlPrefix is the externally
// reachable base under which artifacts are downloadable, e.g.
// "https://polytope.example/api/v1/downloads".
func New(client aws.S3API, bucket, urlPrefix string, log zerolog.Logger) *Staging {
	return &Staging{
		client:    client,
		bucket:    bucket,
		urlPrefix: urlPrefix,
		log:       log.With().Str("component", "staging").Logger(),
	}
}

// Put streams an artifact into staging and returns its download URL, size and
// MD5 checksum.
func (s *Staging) Put(ctx context.Context, requestID string, data io.Reader, contentType string) (*PutResult, error) {
	// Buffer to compute length and checksum; results are bounded by the
	// staging high watermark long before they stop fitting in memory here.
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	sum := md5.Sum(buf)
	digest := hex.EncodeToString(sum[:])

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &requestID,
		Body:        bytes.NewReader(buf),
		ContentType: &contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	s.log.Info().Str("request_id", requestID).Int("bytes", len(buf)).Msg("artifact staged")
	return &PutResult{
		URL:           fmt.Sprintf("%s/%s", s.urlPrefix, requestID),
		ContentLength: int64(len(buf)),
		MD5:           digest,
	}, nil
}

// Get opens a staged artifact for reading. Fails with request.ErrGone if the
// object is absent (evicted or never staged).
func (s *Staging) Get(ctx context.Context, requestID string) (io.ReadCloser, string, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &requestID,
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", 0, fmt.Errorf("artifact %s: %w", requestID, request.ErrGone)
		}
		return nil, "", 0, fmt.Errorf("get object: %w", err)
	}
	contentType := "application/octet-stream"
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	var length int64
	if out.ContentLength != nil {
		length = *out.ContentLength
	}
	return out.Body, contentType, length, nil
}

// Exists reports whether an artifact is staged for the request.
func (s *Staging) Exists(ctx context.Context, requestID string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &requestID,
	})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object: %w", err)
	}
	return true, nil
}

// Delete removes a staged artifact. Deleting an absent object is a no-op,
// which keeps eviction and revocation cleanup idempotent.
func (s *Staging) Delete(ctx context.Context, requestID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &requestID,
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		return fmt.Errorf("delete object: %w", err)
	}
	s.log.Info().Str("request_id", requestID).Msg("artifact deleted")
	return nil
}

// List enumerates every staged artifact with size and age.
func (s *Staging) List(ctx context.Context) ([]Object, error) {
	input := &s3.ListObjectsV2Input{Bucket: &s.bucket}
	var objs []Object
	for {
		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, o := range out.Contents {
			obj := Object{RequestID: *o.Key}
			if o.Size != nil {
				obj.Size = *o.Size
			}
			if o.LastModified != nil {
				obj.LastModified = float64(o.LastModified.UnixNano()) / 1e9
			}
			objs = append(objs, obj)
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}
	return objs, nil
}

// Usage returns the aggregate size of all staged artifacts in bytes.
func (s *Staging) Usage(ctx context.Context) (int64, error) {
	objs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, o := range objs {
		total += o.Size
	}
	return total, nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

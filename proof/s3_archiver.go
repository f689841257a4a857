// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"axonflow/governance/shared/logger"
)

// s3PutAPI is the slice of the S3 client the archiver needs.
type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver mirrors sealed audit records to long-term object storage.
// Archiving is best-effort: the database sink is the record of truth,
// so upload failures are logged and swallowed.
type S3Archiver struct {
	client s3PutAPI
	bucket string
	log    *logger.Logger
}

// NewS3Archiver creates an archiver from the default AWS credential
// chain. Works against S3-compatible endpoints when endpoint is set.
func NewS3Archiver(ctx context.Context, bucket, region, endpoint string, log *logger.Logger) (*S3Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var optFns []func(*s3.Options)
	if endpoint != "" {
		optFns = append(optFns, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Archiver{
		client: s3.NewFromConfig(cfg, optFns...),
		bucket: bucket,
		log:    log,
	}, nil
}

// NewS3ArchiverWithClient creates an archiver with an existing client.
func NewS3ArchiverWithClient(client s3PutAPI, bucket string, log *logger.Logger) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, log: log}
}

// Archive uploads the record keyed by enterprise, day, and bundle id.
func (a *S3Archiver) Archive(ctx context.Context, rec Record) {
	body, err := json.Marshal(rec)
	if err != nil {
		a.log.Warn(rec.EnterpriseID, rec.ID, "Skipping audit archive: record not encodable", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	key := fmt.Sprintf("%s/%s/%s.json", rec.EnterpriseID, rec.CreatedAt.UTC().Format("2006-01-02"), rec.Bundle.BundleID)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		a.log.Warn(rec.EnterpriseID, rec.ID, "Audit archive upload failed", map[string]interface{}{
			"bucket": a.bucket,
			"key":    key,
			"error":  err.Error(),
		})
	}
}

// ArchivingSink wraps a Sink and mirrors every appended record to an
// archiver. The inner append still fails closed; only archiving is
// best-effort.
type ArchivingSink struct {
	inner    Sink
	archiver *S3Archiver
}

// NewArchivingSink composes a sink with an archiver.
func NewArchivingSink(inner Sink, archiver *S3Archiver) *ArchivingSink {
	return &ArchivingSink{inner: inner, archiver: archiver}
}

// Append writes to the inner sink first, then archives on success.
func (s *ArchivingSink) Append(ctx context.Context, rec Record) error {
	if err := s.inner.Append(ctx, rec); err != nil {
		return err
	}
	s.archiver.Archive(ctx, rec)
	return nil
}

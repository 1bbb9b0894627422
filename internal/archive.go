package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lychee-technology/formbase"
)

// s3PutObjectAPI is the slice of the S3 client the archiver uses.
type s3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver exports expired backups as JSON objects before the retention
// sweep deletes them. Objects are keyed by form id and backup id so an
// operator can still locate a payload after it leaves the database.
type S3Archiver struct {
	client s3PutObjectAPI
	bucket string
	prefix string
}

// NewS3Archiver builds an archiver from the ambient AWS configuration.
func NewS3Archiver(ctx context.Context, cfg formbase.ArchiveConfig) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Archive uploads one backup. Called by the sweep; an error keeps the
// backup in the database until the next sweep.
func (a *S3Archiver) Archive(ctx context.Context, backup *formbase.DataBackup) error {
	payload, err := json.Marshal(backup)
	if err != nil {
		return fmt.Errorf("marshal backup %s: %w", backup.ID, err)
	}
	key := fmt.Sprintf("%s%s/%s.json", a.prefix, backup.FormID, backup.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put backup %s to s3: %w", backup.ID, err)
	}
	return nil
}

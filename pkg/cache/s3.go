package cache

import (
	"bytes"
	"context"
	goerrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/litetx/ltxkit/pkg/errors"
	"github.com/litetx/ltxkit/pkg/util/console"
)

// S3Store keeps cache entries in an S3-compatible bucket so they survive
// ephemeral job sandboxes.
type S3Store struct {
	client *s3.Client
	bucket string
}

type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

func NewS3Store(conf S3Config) *S3Store {
	cfg := aws.NewConfig()
	if conf.Endpoint != "" {
		cfg.BaseEndpoint = &conf.Endpoint
	}
	if conf.Region != "" {
		cfg.Region = conf.Region
	}
	cfg.Credentials = credentials.StaticCredentialsProvider{
		Value: aws.Credentials{
			AccessKeyID:     conf.AccessKeyID,
			SecretAccessKey: conf.SecretAccessKey,
		},
	}

	return &S3Store{
		client: s3.NewFromConfig(*cfg),
		bucket: conf.Bucket,
	}
}

func (s *S3Store) Restore(ctx context.Context, key string, dir string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if goerrors.As(err, &noSuchKey) {
			return errors.CacheMiss(fmt.Sprintf("no cache entry s3://%s/%s", s.bucket, s.objectKey(key)))
		}
		return err
	}
	defer out.Body.Close()

	console.Debugf("restoring cache entry s3://%s/%s", s.bucket, s.objectKey(key))
	return extractArchive(out.Body, dir)
}

func (s *S3Store) Save(ctx context.Context, key string, dir string) error {
	var buf bytes.Buffer
	if err := archiveDir(&buf, dir); err != nil {
		return err
	}

	console.Debugf("saving cache entry s3://%s/%s", s.bucket, s.objectKey(key))
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	return err
}

func (s *S3Store) objectKey(key string) string {
	return key + ".tar.gz"
}

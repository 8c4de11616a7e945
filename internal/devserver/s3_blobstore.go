package devserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3BlobStore implements BlobStore against an S3-compatible backend,
// adapted from the teacher's EntryService (aws.Config +
// s3.NewFromConfig + BaseEndpoint override for MinIO-style deployments),
// generalized from presigned-URL issuance for whole-file upload into
// direct PutObject/GetObject/HeadObject proxying for content-addressed
// chunk payloads — the sync protocol streams chunks through the
// devserver itself rather than handing the client a presigned URL.
type S3BlobStore struct {
	client *s3.Client
	bucket string
}

// NewS3BlobStore builds an S3BlobStore for the given bucket, talking to
// baseEndpoint with static credentials (e.g. a local MinIO instance).
func NewS3BlobStore(ctx context.Context, region, baseEndpoint, accessKey, secretKey, bucket string) (*S3BlobStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("devserver: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(baseEndpoint)
		o.UsePathStyle = true
	})

	return &S3BlobStore{client: client, bucket: bucket}, nil
}

func (b *S3BlobStore) Has(ctx context.Context, hash string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(hash),
	})
	if err != nil {
		var notFound *smithyhttp.ResponseError
		if errors.As(err, &notFound) && notFound.HTTPStatusCode() == 404 {
			return false, nil
		}
		return false, fmt.Errorf("devserver: head chunk %s: %w", hash, err)
	}
	return true, nil
}

func (b *S3BlobStore) Put(ctx context.Context, hash string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(hash),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("devserver: put chunk %s: %w", hash, err)
	}
	return nil
}

func (b *S3BlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(hash),
	})
	if err != nil {
		var notFound *smithyhttp.ResponseError
		if errors.As(err, &notFound) && notFound.HTTPStatusCode() == 404 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("devserver: get chunk %s: %w", hash, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/vault-session-broker/interfaces"
)

// S3Backend stores cache records as objects in Amazon S3 or a compatible service.
// Credentials are taken from the default AWS credential chain.
type S3Backend struct {
	client     *s3.S3
	bucketName string
	prefix     string
	log        *slog.Logger
}

// NewS3Backend creates a new S3 cache backend.
func NewS3Backend(bucketName, prefix, region, endpoint string, log *slog.Logger) (*S3Backend, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("%w: cache:s3:bucket is required for the s3 backend", interfaces.ErrInvalidConfig)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:     s3.New(sess),
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
		log:        log,
	}, nil
}

// Fetch retrieves the record object. Returns ErrCacheMiss if the object doesn't exist.
func (b *S3Backend) Fetch(ctx context.Context, bank interfaces.CacheBank, key string) ([]byte, error) {
	start := time.Now()
	objectKey := b.objectKey(bank, key)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, interfaces.ErrCacheMiss
		}
		b.log.Error("Failed to get object from S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", objectKey),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	b.log.Debug("Fetched record from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Store uploads the record object. Objects are private.
func (b *S3Backend) Store(ctx context.Context, bank interfaces.CacheBank, key string, data []byte) error {
	objectKey := b.objectKey(bank, key)

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
		ACL:    aws.String(s3.ObjectCannedACLPrivate),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object to S3: %w", err)
	}

	b.log.Debug("Stored record in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey))

	return nil
}

// Flush deletes the record object, or every object below the bank prefix when key is empty.
func (b *S3Backend) Flush(ctx context.Context, bank interfaces.CacheBank, key string) error {
	if key != "" {
		_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucketName),
			Key:    aws.String(b.objectKey(bank, key)),
		})
		if err != nil && !isS3NotFound(err) {
			return fmt.Errorf("failed to delete object from S3: %w", err)
		}
		return nil
	}

	var objects []*s3.ObjectIdentifier
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucketName),
		Prefix: aws.String(b.bankPrefix(bank)),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, &s3.ObjectIdentifier{Key: obj.Key})
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to list objects in S3: %w", err)
	}

	// DeleteObjects accepts at most 1000 keys per request
	for start := 0; start < len(objects); start += 1000 {
		end := min(start+1000, len(objects))
		_, err := b.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucketName),
			Delete: &s3.Delete{Objects: objects[start:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects from S3: %w", err)
		}
	}

	b.log.Debug("Flushed bank from S3",
		slog.String("bucket", b.bucketName),
		slog.String("bank", bank.String()),
		slog.Int("count", len(objects)))

	return nil
}

// Name returns a unique identifier for this backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

func (b *S3Backend) objectKey(bank interfaces.CacheBank, key string) string {
	return path.Join(b.prefix, bank.String(), key)
}

func (b *S3Backend) bankPrefix(bank interfaces.CacheBank) string {
	return path.Join(b.prefix, bank.String()) + "/"
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

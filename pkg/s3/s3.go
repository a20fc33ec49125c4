package s3

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

type ItfS3 interface {
	UploadSnapshot(ctx context.Context, key string, image []byte) (string, error)
}

type Options struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

type s3Client struct {
	uploader   *s3manager.Uploader
	bucketName string
}

func New(opts Options) (ItfS3, error) {
	sess, err := newSession(opts)
	if err != nil {
		return nil, err
	}

	return &s3Client{
		uploader:   s3manager.NewUploader(sess),
		bucketName: opts.Bucket,
	}, nil
}

func (s *s3Client) UploadSnapshot(ctx context.Context, key string, image []byte) (string, error) {
	uploadOutput, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(image),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", key, err)
	}

	return uploadOutput.Location, nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SnapshotKey builds snapshots/<camera>/vehicle_<YYYYmmdd_HHMMSS>_<task>.jpg.
func SnapshotKey(camera string, detectedAt time.Time, taskID string) string {
	return fmt.Sprintf("snapshots/%s/vehicle_%s_%s.jpg",
		unsafeKeyChars.ReplaceAllString(camera, "_"),
		detectedAt.Format("20060102_150405"),
		unsafeKeyChars.ReplaceAllString(taskID, "_"),
	)
}

func newSession(opts Options) (*session.Session, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(opts.Region),
		Credentials: credentials.NewStaticCredentials(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"",
		),
	})

	if err != nil {
		return nil, err
	}

	return sess, nil
}

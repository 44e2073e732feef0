package chatserver

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Avatars stores avatars in an S3 bucket and hands out presigned GET URLs
// so the chat server never proxies image bytes.
type S3Avatars struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	prefix    string
	urlExpiry time.Duration
}

// NewS3Avatars builds an S3-backed avatar store using the ambient AWS
// credential chain.
func NewS3Avatars(ctx context.Context, bucket, prefix string) (*S3Avatars, error) {
	if bucket == "" {
		return nil, errors.New("chatserver: s3 avatar bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3Avatars{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    bucket,
		prefix:    prefix,
		urlExpiry: 15 * time.Minute,
	}, nil
}

func (s *S3Avatars) key(username string) string {
	if s.prefix == "" {
		return "avatars/" + username
	}
	return s.prefix + "/" + username
}

func (s *S3Avatars) Put(ctx context.Context, username, contentType string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(username)),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Avatars) Open(ctx context.Context, username string) (io.ReadCloser, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(username)),
	})
	if err != nil {
		return nil, "", err
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

// URL returns a presigned GET URL so clients fetch straight from S3.
func (s *S3Avatars) URL(ctx context.Context, username string) (string, bool) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(username)),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", false
	}
	return req.URL, true
}

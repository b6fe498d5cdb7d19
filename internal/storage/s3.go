package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
)

// contentTypeRemoverID names the build middleware that PresignPutObject adds
// to strip Content-Type from body-less requests.
const contentTypeRemoverID = "RemoveContentTypeHeader"

// S3Options configures an S3Signer.
type S3Options struct {
	Bucket string
	Region string

	// Endpoint overrides the S3 endpoint, e.g. "http://127.0.0.1:9000" for
	// MinIO. Empty uses AWS.
	Endpoint string

	// UsePathStyle addresses the bucket in the path instead of the host.
	// S3-compatible stores usually need it.
	UsePathStyle bool

	// AccessKeyID and SecretAccessKey configure static credentials. When
	// empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

type putPresigner interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Signer issues presigned PUT URLs for an S3 bucket.
type S3Signer struct {
	presigner putPresigner
	bucket    string
}

// NewS3Signer loads the AWS configuration and creates an S3Signer.
func NewS3Signer(ctx context.Context, opts S3Options) (*S3Signer, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &S3Signer{presigner: s3.NewPresignClient(client), bucket: opts.Bucket}, nil
}

// Presign returns a presigned URL permitting a PUT of req.ObjectName.
func (s *S3Signer) Presign(ctx context.Context, req *PresignRequest) (*PresignResult, error) {
	ttl := ttlOrDefault(req.TTL)
	expiresAt := time.Now().Add(ttl)

	out, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(req.ObjectName),
		ContentType: aws.String(req.ContentType),
	}, s3.WithPresignExpires(ttl), s3.WithPresignClientFromClientOptions(signContentType))
	if err != nil {
		return nil, fmt.Errorf("storage: failed to presign %q: %w", req.ObjectName, err)
	}

	return &PresignResult{
		ObjectName: req.ObjectName,
		UploadURL:  out.URL,
		ExpiresAt:  expiresAt,
	}, nil
}

// signContentType keeps the serialized Content-Type header on the presigned
// request so it is included in X-Amz-SignedHeaders. Without it the URL
// accepts a PUT of any type.
func signContentType(o *s3.Options) {
	o.APIOptions = append(o.APIOptions, func(stack *middleware.Stack) error {
		if _, ok := stack.Build.Get(contentTypeRemoverID); !ok {
			return nil
		}
		_, err := stack.Build.Remove(contentTypeRemoverID)
		return err
	})
}

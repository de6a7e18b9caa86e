package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
	"rivalcast/internal/services"
)

const defaultRegion = "us-east-1"

// S3 uploads artifacts to an S3-compatible bucket.
type S3 struct {
	uploader *manager.Uploader
	bucket   string
	region   string
	endpoint string
	logger   *slog.Logger
}

// NewS3 builds an uploader from the artifact settings. Static keys win over
// the default AWS credential chain.
func NewS3(ctx context.Context, cfg config.Artifacts, logger *slog.Logger) (*S3, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, services.Wrap(services.ErrConfiguration, "artifacts", "init", "bucket required", nil)
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	} else if logger != nil {
		logger.Debug("artifact store using default AWS credential chain")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		region:   region,
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// Upload streams localPath to key and returns its s3:// URI.
func (s *S3) Upload(ctx context.Context, key, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, "artifacts", "open", localPath, err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", services.Wrap(services.ErrCancelled, "artifacts", "upload", key, ctx.Err())
		}
		return "", services.Wrap(services.ErrTransient, "artifacts", "upload", key, err)
	}
	uri := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	if s.logger != nil {
		s.logger.Info("artifact uploaded",
			logging.String("uri", uri),
			logging.String(logging.FieldEventType, "artifact_uploaded"),
		)
	}
	return uri, nil
}

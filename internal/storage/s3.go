package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/lupppig/dbu/internal/config"
	apperrors "github.com/lupppig/dbu/internal/errors"
	"github.com/lupppig/dbu/internal/logger"
)

// S3Provider talks to AWS S3, or to any S3-compatible endpoint when one is configured.
type S3Provider struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string
	logger     *logger.Logger
	progress   *Progress
}

func NewS3Provider(ctx context.Context, cfg config.AWSConfig, opts Options) (*S3Provider, error) {
	if cfg.Bucket == "" {
		return nil, apperrors.New(apperrors.TypeConfig, "AWS bucket name is required", "Set cloud.aws.bucket_name or DBU_CLOUD_AWS_BUCKET_NAME.")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeAuth, "failed to load AWS config", "Check the AWS credentials in the configuration.")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Provider{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		logger:     opts.logger(),
		progress:   opts.Progress,
	}, nil
}

func (s *S3Provider) Upload(ctx context.Context, key, localPath string) (string, error) {
	f, size, err := openUpload(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	objectKey := joinKey(s.prefix, key)
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   s.progress.Reader(f, key, size),
	})
	if err != nil {
		return "", storageError(err, "upload", key)
	}
	if out.Location != "" {
		return out.Location, nil
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, objectKey), nil
}

func (s *S3Provider) Download(ctx context.Context, key, destination string) (string, error) {
	target, err := downloadTarget(key, destination)
	if err != nil {
		return "", err
	}
	f, commit, err := createDownload(target)
	if err != nil {
		return "", err
	}
	_, err = s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err := commit(err); err != nil {
		return "", storageError(err, "download", key)
	}
	return target, nil
}

// Delete reports false for a missing key; S3 itself treats that as success.
func (s *S3Provider) Delete(ctx context.Context, key string) (bool, error) {
	found, err := s.head(ctx, key)
	if err != nil {
		return false, storageError(err, "delete", key)
	}
	if !found {
		return false, nil
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err != nil {
		return false, storageError(err, "delete", key)
	}
	return true, nil
}

func (s *S3Provider) Exists(ctx context.Context, key string) bool {
	found, err := s.head(ctx, key)
	if err != nil {
		s.logger.Warn("Existence check failed", "bucket", s.bucket, "key", key, "error", err)
		return false
	}
	return found
}

func (s *S3Provider) head(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *S3Provider) ListFiles(ctx context.Context) []FileInfo {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		input.Prefix = aws.String(strings.Trim(s.prefix, "/") + "/")
	}

	files := []FileInfo{}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			s.logger.Warn("Listing bucket failed", "bucket", s.bucket, "error", err)
			return []FileInfo{}
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), aws.ToString(input.Prefix))
			if key == "" {
				continue
			}
			files = append(files, FileInfo{Key: key, Size: aws.ToInt64(obj.Size), LastModified: obj.LastModified})
		}
	}
	return files
}

func (s *S3Provider) Close() error { return nil }

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

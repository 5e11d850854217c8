//go:generate mockgen -destination mock_blobstore/mock_blobstore.go github.com/quillpub/quill-server/blobstore BlobStore
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("not found")
)

const coverPrefix = "covers/"

func New() BlobStore {
	return &store{}
}

const CName = "blobstore"

var log = logger.NewNamed(CName)

type BlobStore interface {
	app.Component

	// Store uploads the file and returns its public url.
	Store(ctx context.Context, file File) (url string, err error)
	// Open streams the object behind a url returned by Store. ErrNotFound when it is gone.
	Open(ctx context.Context, url string) (body io.ReadCloser, err error)
	// Delete removes the object behind a url returned by Store.
	Delete(ctx context.Context, url string) error
}

type store struct {
	bucket    *string
	publicUrl string
	client    *s3.Client
}

func (s *store) Init(a *app.App) (err error) {
	conf := a.MustComponent("config").(configSource).GetS3Store()
	if conf.Bucket == "" {
		return fmt.Errorf("s3 bucket is empty")
	}

	awsConf, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		return err
	}

	// If creds are provided in the configuration, they are directly forwarded to the client as static credentials.
	if conf.Credentials.AccessKey != "" && conf.Credentials.SecretKey != "" {
		awsConf.Credentials = credentials.NewStaticCredentialsProvider(conf.Credentials.AccessKey, conf.Credentials.SecretKey, "")
	}
	awsConf.Region = conf.Region
	if conf.GoogleCompat {
		awsConf.HTTPClient = &http.Client{Transport: newGcsTransport(awsConf)}
	}
	s.bucket = aws.String(conf.Bucket)
	s.publicUrl = conf.PublicUrl
	if s.publicUrl == "" {
		s.publicUrl = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", conf.Bucket, conf.Region)
	}
	s.client = s3.NewFromConfig(awsConf, func(o *s3.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
		}
		o.UsePathStyle = conf.PathStyle
	})
	return nil
}

func (s *store) Name() string {
	return CName
}

func (s *store) Store(ctx context.Context, file File) (string, error) {
	key := file.key(coverPrefix)
	input := &s3.PutObjectInput{
		Bucket:        s.bucket,
		Key:           &key,
		Body:          file.reader(),
		ContentType:   aws.String(file.ContentType()),
		ContentLength: aws.Int64(int64(file.Len())),
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", err
	}
	log.Debug("blob stored", zap.String("key", key), zap.Int("size", file.Len()))
	return url.JoinPath(s.publicUrl, key)
}

func (s *store) Open(ctx context.Context, objectUrl string) (io.ReadCloser, error) {
	key, err := s.objectKey(objectUrl)
	if err != nil {
		return nil, err
	}
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: s.bucket,
		Key:    &key,
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return output.Body, nil
}

// Delete succeeds for keys that are already gone, s3 does not report them.
func (s *store) Delete(ctx context.Context, objectUrl string) error {
	key, err := s.objectKey(objectUrl)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: s.bucket,
		Key:    &key,
	})
	return err
}

func (s *store) objectKey(objectUrl string) (string, error) {
	key, ok := strings.CutPrefix(objectUrl, strings.TrimSuffix(s.publicUrl, "/")+"/")
	if !ok || key == "" {
		return "", fmt.Errorf("url %q does not belong to the store", objectUrl)
	}
	return key, nil
}

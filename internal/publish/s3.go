package publish

import (
	"context"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
)

// S3Mirror uploads published files to an S3-compatible bucket under a key
// prefix.
type S3Mirror struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Mirror builds a mirror from configuration using the default AWS
// credential chain. A custom endpoint (e.g. MinIO) switches to path-style
// addressing.
func NewS3Mirror(ctx context.Context, cfg config.S3Config) (*S3Mirror, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("publish: s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "publish: load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3MirrorFromClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3MirrorFromClient wraps an existing client.
func NewS3MirrorFromClient(client *s3.Client, bucket, prefix string) *S3Mirror {
	return &S3Mirror{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a published file.
func (m *S3Mirror) Key(rel string) string {
	return path.Join(m.prefix, rel)
}

// Upload puts the file at p under the key derived from rel.
func (m *S3Mirror) Upload(ctx context.Context, rel, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return eris.Wrapf(err, "publish: open %s", p)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "publish: stat %s", p)
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(m.Key(rel)),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	}
	if ct := contentType(rel); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if _, err := m.client.PutObject(ctx, input); err != nil {
		return eris.Wrapf(err, "publish: put s3://%s/%s", m.bucket, m.Key(rel))
	}
	return nil
}

func contentType(rel string) string {
	switch ext := filepath.Ext(rel); ext {
	case ".csv":
		return "text/csv"
	case ".yaml":
		return "application/yaml"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return mime.TypeByExtension(ext)
	}
}

package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ContentType is the media type stored with recorded trajectories.
const ContentType = "application/json"

// ErrInvalidDestination is returned by ParseDestination.
var ErrInvalidDestination = errors.New("export: invalid destination")

// Store persists an encoded trajectory under a key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
}

// FileStore writes trajectories below a directory.
type FileStore struct {
	Dir string
}

// Put writes data to Dir/key. The file is written to a temporary name and
// renamed so readers never see a partial trajectory.
func (s FileStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".molbridge-*.json")
	if err != nil {
		return fmt.Errorf("export: create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("export: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("export: write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("export: rename file: %w", err)
	}
	return nil
}

// PutObjectAPI is the part of the S3 client used by S3Store.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads trajectories to an S3 bucket.
type S3Store struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Store creates an S3Store. Keys are prefixed with prefix verbatim.
func NewS3Store(client PutObjectAPI, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

// Put uploads data as bucket/prefix+key.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ContentType),
		Metadata: map[string]string{
			"recorded-at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("export: s3 upload failed: %w", err)
	}
	return nil
}

// S3Options configures the S3 client built by NewS3Client.
type S3Options struct {
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	UsePathStyle    bool   `json:"use_path_style,omitempty"`
}

// NewS3Client builds an S3 client from explicit options. Missing keys fall
// back to AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN;
// a missing region falls back to AWS_REGION and then us-east-1.
func NewS3Client(opts S3Options) *s3.Client {
	region := opts.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		id, secret := opts.AccessKeyID, opts.SecretAccessKey
		token := ""
		if id == "" {
			id = os.Getenv("AWS_ACCESS_KEY_ID")
			secret = os.Getenv("AWS_SECRET_ACCESS_KEY")
			token = os.Getenv("AWS_SESSION_TOKEN")
		}
		if id == "" || secret == "" {
			return aws.Credentials{}, errors.New("export: no AWS credentials configured")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    token,
			Source:          "molbridge",
		}, nil
	})

	cfg := aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
}

// Destination is a parsed recording target.
type Destination struct {
	// Bucket is set for s3:// destinations.
	Bucket string

	// Dir is set for file destinations.
	Dir string

	// Key is the object key or file name.
	Key string
}

// IsS3 reports whether the destination is an S3 object.
func (d Destination) IsS3() bool { return d.Bucket != "" }

// ParseDestination parses "s3://bucket/key" or a file path.
func ParseDestination(dest string) (Destination, error) {
	if dest == "" {
		return Destination{}, fmt.Errorf("%w: empty", ErrInvalidDestination)
	}
	if !strings.HasPrefix(dest, "s3://") {
		if strings.HasSuffix(dest, "/") || strings.HasSuffix(dest, string(filepath.Separator)) {
			return Destination{}, fmt.Errorf("%w: %q names a directory", ErrInvalidDestination, dest)
		}
		return Destination{Dir: filepath.Dir(dest), Key: filepath.Base(dest)}, nil
	}

	u, err := url.Parse(dest)
	if err != nil {
		return Destination{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" || strings.HasSuffix(key, "/") {
		return Destination{}, fmt.Errorf("%w: %q needs a bucket and an object key", ErrInvalidDestination, dest)
	}
	return Destination{Bucket: u.Host, Key: key}, nil
}

// Open returns the store and key for a destination string. S3 clients are
// built from opts.
func Open(dest string, opts S3Options) (Store, string, error) {
	d, err := ParseDestination(dest)
	if err != nil {
		return nil, "", err
	}
	if d.IsS3() {
		return NewS3Store(NewS3Client(opts), d.Bucket, ""), d.Key, nil
	}
	return FileStore{Dir: d.Dir}, d.Key, nil
}

package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds the configuration for the S3 origin backend.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string // Optional: key prefix the channels/ tree lives under
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3 is the S3 origin backend. Object ids are bucket keys; folder ids carry
// a trailing slash.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates an S3 origin.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &S3{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Name identifies the backend.
func (s *S3) Name() string {
	return "s3"
}

// ChannelFolder resolves channels/<slug>/ under the configured prefix.
func (s *S3) ChannelFolder(ctx context.Context, slug string) (*Entry, error) {
	key := s.prefix + "channels/" + slug + "/"
	exists, err := s.folderExists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("channel %s: %w", slug, ErrNotExist)
	}
	return &Entry{ID: key, Name: slug, IsDir: true}, nil
}

// ListChannelIncoming returns the release folders awaiting import.
func (s *S3) ListChannelIncoming(ctx context.Context, slug string) ([]Entry, error) {
	key := s.prefix + "channels/" + slug + "/incoming/"
	entries, err := s.List(ctx, key)
	if err != nil {
		return nil, err
	}
	var folders []Entry
	for _, e := range entries {
		if e.IsDir {
			folders = append(folders, e)
		}
	}
	return folders, nil
}

// List returns the direct children of a folder key.
func (s *S3) List(ctx context.Context, folderID string) ([]Entry, error) {
	folderID = ensureSlash(folderID)

	var out []Entry
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(folderID),
		Delimiter: aws.String("/"),
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %s: %w", folderID, err)
		}
		for _, p := range page.CommonPrefixes {
			key := aws.ToString(p.Prefix)
			out = append(out, Entry{ID: key, Name: baseName(key), IsDir: true})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == folderID {
				continue
			}
			out = append(out, Entry{ID: key, Name: baseName(key), Size: aws.ToInt64(obj.Size)})
		}
	}
	return out, nil
}

// FindFolder returns the child folder with the given name, case-insensitively.
func (s *S3) FindFolder(ctx context.Context, parentID, name string) (*Entry, error) {
	return s.findChild(ctx, parentID, name, true)
}

// FindFile returns the child file with the given name, case-insensitively.
func (s *S3) FindFile(ctx context.Context, parentID, name string) (*Entry, error) {
	return s.findChild(ctx, parentID, name, false)
}

func (s *S3) findChild(ctx context.Context, parentID, name string, wantDir bool) (*Entry, error) {
	entries, err := s.List(ctx, parentID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir == wantDir && strings.EqualFold(e.Name, name) {
			found := e
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%s in %s: %w", name, parentID, ErrNotExist)
}

// EnumerateTree returns every object underneath a folder key, recursively.
func (s *S3) EnumerateTree(ctx context.Context, folderID string) ([]Entry, error) {
	folderID = ensureSlash(folderID)

	var out []Entry
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(folderID),
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 enumerate %s: %w", folderID, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, Entry{ID: key, Name: baseName(key), Size: aws.ToInt64(obj.Size)})
		}
	}
	return out, nil
}

// ReadText downloads a small text object.
func (s *S3) ReadText(ctx context.Context, id string) (string, error) {
	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("s3 get %s: %w", id, err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("s3 read %s: %w", id, err)
	}
	return string(data), nil
}

// FetchTo downloads an object into localPath.
func (s *S3) FetchTo(ctx context.Context, id, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("create fetch dir: %w", err)
	}
	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("s3 get %s: %w", id, err)
	}
	defer func() { _ = res.Body.Close() }()

	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) // #nosec G304 - destination is inside the workspace
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	if _, err := io.Copy(dst, res.Body); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy %s: %w", id, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	return nil
}

// Stat returns the current entry for an object key.
func (s *S3) Stat(ctx context.Context, id string) (*Entry, error) {
	res, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%s: %w", id, ErrNotExist)
		}
		return nil, fmt.Errorf("s3 head %s: %w", id, err)
	}
	return &Entry{ID: id, Name: baseName(id), Size: aws.ToInt64(res.ContentLength)}, nil
}

func (s *S3) folderExists(ctx context.Context, key string) (bool, error) {
	res, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("s3 list %s: %w", key, err)
	}
	return aws.ToInt32(res.KeyCount) > 0, nil
}

func ensureSlash(key string) string {
	if key != "" && !strings.HasSuffix(key, "/") {
		return key + "/"
	}
	return key
}

func baseName(key string) string {
	return path.Base(strings.TrimSuffix(key, "/"))
}

// Compile-time interface check.
var _ Origin = (*S3)(nil)

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"corpusdedup/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ObjectStore is the narrow object storage surface the mirror needs
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// S3 wraps the AWS SDK for Go v2 S3 client for one bucket.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 creates a new S3 wrapper using the default AWS configuration chain,
// with optional overrides from S3Config.
func NewS3(ctx context.Context, cfg config.S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3{client: c, bucket: cfg.Bucket}, nil
}

// Put uploads an object to key.
// If contentType is non-empty, it is set on the object.
func (s *S3) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	_, err := s.client.PutObject(ctx, in)
	return err
}

// Get fetches an object and returns its streaming body. Caller must Close it.
func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// Delete removes the object at key.
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// Exists returns true if the object exists (HTTP 200 from HeadObject); false if 404/NotFound.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	// Check for HTTP 404 response error
	var respErr *http.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return false, nil
	}

	// Check for API error code NotFound
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return false, nil
	}

	return false, err
}

// List returns every key under prefix, following continuation tokens.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys  []string
		token *string
	)
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			MaxKeys:           aws.Int32(1000),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

// Mirror copies committed checkpoints to an object store and restores them
// when the local copy is missing
type Mirror struct {
	store  ObjectStore
	prefix string
	logger zerolog.Logger
}

// NewMirror returns a mirror writing under prefix
func NewMirror(store ObjectStore, prefix string, logger zerolog.Logger) *Mirror {
	return &Mirror{store: store, prefix: prefix, logger: logger}
}

func (m *Mirror) key(local *Store, file string) string {
	return path.Join(m.prefix, string(local.Stage()), file)
}

// Push uploads a committed checkpoint. The manifest goes last so a partially
// pushed checkpoint is never restored.
func (m *Mirror) Push(ctx context.Context, local *Store) error {
	for _, file := range Files {
		if err := m.pushFile(ctx, local, file); err != nil {
			return err
		}
	}
	m.logger.Info().Str("stage", string(local.Stage())).Str("prefix", m.prefix).Msg("checkpoint mirrored")
	return nil
}

func (m *Mirror) pushFile(ctx context.Context, local *Store, file string) error {
	f, err := os.Open(filepath.Join(local.Dir(), file))
	if err != nil {
		return fmt.Errorf("open %s for upload: %w", file, err)
	}
	defer f.Close()

	contentType := "application/x-ndjson"
	if file == ManifestFile {
		contentType = "application/json"
	}
	if err := m.store.Put(ctx, m.key(local, file), f, contentType); err != nil {
		return fmt.Errorf("upload %s: %w", file, err)
	}
	return nil
}

// Pull restores the remote checkpoint of local's stage when one exists. It reports
// false when the remote has no manifest. The download is committed with the same
// temp-directory rename as a local commit.
func (m *Mirror) Pull(ctx context.Context, local *Store) (bool, error) {
	ok, err := m.store.Exists(ctx, m.key(local, ManifestFile))
	if err != nil {
		return false, fmt.Errorf("check remote manifest: %w", err)
	}
	if !ok {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(local.Dir()), 0o755); err != nil {
		return false, fmt.Errorf("create cache parent: %w", err)
	}
	suffix := uuid.NewString()
	tmp := local.Dir() + ".tmp-" + suffix
	if err := os.Mkdir(tmp, 0o755); err != nil {
		return false, fmt.Errorf("create temp checkpoint: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmp)
		}
	}()

	for _, file := range Files {
		if err := m.pullFile(ctx, local, file, tmp); err != nil {
			return false, err
		}
	}
	if err := local.swap(tmp, suffix); err != nil {
		return false, err
	}
	committed = true
	m.logger.Info().Str("stage", string(local.Stage())).Str("prefix", m.prefix).Msg("checkpoint restored from mirror")
	return true, nil
}

func (m *Mirror) pullFile(ctx context.Context, local *Store, file, dir string) error {
	body, err := m.store.Get(ctx, m.key(local, file))
	if err != nil {
		return fmt.Errorf("download %s: %w", file, err)
	}
	defer body.Close()

	return writeFileSync(filepath.Join(dir, file), func(w io.Writer) error {
		_, err := io.Copy(w, body)
		return err
	})
}

// Clear deletes every mirrored checkpoint under the prefix
func (m *Mirror) Clear(ctx context.Context) error {
	keys, err := m.store.List(ctx, m.prefix)
	if err != nil {
		return fmt.Errorf("list mirrored checkpoints: %w", err)
	}
	var errs []error
	for _, k := range keys {
		if err := m.store.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

package medium

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tapesafe/internal/config"
	"tapesafe/internal/core"
)

// S3Medium is an S3-backed implementation of the Medium interface. Objects
// are laid out as <prefix>/<tapeID>/job_<id>.tar[.enc|.json], mirroring the
// filesystem medium. Uploads stream through an io.Pipe so archives never
// buffer fully in memory.
type S3Medium struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Medium creates an S3 medium from the medium config. Credentials fall
// back to the default AWS chain when not set explicitly.
func NewS3Medium(ctx context.Context, cfg config.MediumConfig) (*S3Medium, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3_bucket required for s3 medium")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Medium{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
		prefix:   strings.Trim(cfg.S3Prefix, "/"),
	}, nil
}

func (m *S3Medium) key(tapeID, name string) string {
	if m.prefix == "" {
		return path.Join(tapeID, name)
	}
	return path.Join(m.prefix, tapeID, name)
}

func (m *S3Medium) Writer(tapeID string, jobID int64, encrypted bool) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, done: make(chan error, 1)}

	go func() {
		_, err := m.uploader.Upload(context.Background(), &s3.PutObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(m.key(tapeID, archiveName(jobID, encrypted))),
			Body:   pr,
		})
		// Unblock a writer still feeding the pipe on upload failure.
		pr.CloseWithError(err)
		w.done <- err
	}()

	return w, nil
}

func (m *S3Medium) Reader(tapeID string, jobID int64, encrypted bool) (io.ReadCloser, error) {
	out, err := m.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(tapeID, archiveName(jobID, encrypted))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return out.Body, nil
}

func (m *S3Medium) ArtifactSize(tapeID string, jobID int64, encrypted bool) (int64, error) {
	out, err := m.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(tapeID, archiveName(jobID, encrypted))),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to stat archive: %w", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (m *S3Medium) WriteManifest(tapeID string, jobID int64, data []byte) error {
	_, err := m.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(tapeID, manifestName(jobID))),
		Body:   strings.NewReader(string(data)),
	})
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (m *S3Medium) ReadManifest(tapeID string, jobID int64) ([]byte, error) {
	out, err := m.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(tapeID, manifestName(jobID))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest body: %w", err)
	}
	return data, nil
}

func (m *S3Medium) ListManifests(tapeID string) ([]int64, error) {
	prefix := m.key(tapeID, "") + "/"
	paginator := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(prefix),
	})

	var ids []int64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to list tape objects: %w", err)
		}
		for _, obj := range page.Contents {
			id, ok := manifestJobID(path.Base(aws.ToString(obj.Key)))
			if !ok {
				continue
			}
			ids = append(ids, id)
		}
	}
	// ListObjectsV2 returns keys in lexicographic order; job_10 sorts before
	// job_2, so sort numerically here.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type s3Writer struct {
	pw     *io.PipeWriter
	done   chan error
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.pw.Close(); err != nil {
		return err
	}
	if err := <-w.done; err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}
	return nil
}

// Compile-time check that S3Medium implements the core.Medium interface
var _ core.Medium = (*S3Medium)(nil)

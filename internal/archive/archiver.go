package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"jobflow/internal/config"
	"jobflow/internal/events"
	"jobflow/internal/models"
	"jobflow/internal/telemetry"
)

// Uploader stores one archive object and returns where it went.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Source reads what gets archived; *lifecycle.Orchestrator satisfies it.
type Source interface {
	GetByJob(ctx context.Context, jobRef string) (models.JobLifecycle, error)
	History(ctx context.Context, jobRef string) ([]models.LifecycleHistoryEntry, error)
}

// Record is the archived document for one finished job.
type Record struct {
	JobRef     string                         `json:"job_ref"`
	Reason     events.Type                    `json:"reason"`
	Lifecycle  models.JobLifecycle            `json:"lifecycle"`
	History    []models.LifecycleHistoryEntry `json:"history"`
	ArchivedAt time.Time                      `json:"archived_at"`
}

// Archiver exports a job's lifecycle and history once it completes or is
// cancelled. Exports run in the background; Wait blocks until they finish.
type Archiver struct {
	source   Source
	uploader Uploader
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
}

var _ events.Subscriber = (*Archiver)(nil)

func NewArchiver(source Source, uploader Uploader, logger *slog.Logger) *Archiver {
	return &Archiver{
		source:   source,
		uploader: uploader,
		logger:   logger,
		timeout:  30 * time.Second,
		now:      time.Now,
	}
}

// NewUploader picks S3 when a bucket is configured, else a local directory.
// It returns nil when archiving is not configured.
func NewUploader(ctx context.Context, cfg config.Config) (Uploader, error) {
	if cfg.ArchiveS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &S3Uploader{client: client, bucket: cfg.ArchiveS3Bucket}, nil
	}
	if cfg.ArchiveDir != "" {
		return &LocalUploader{baseDir: cfg.ArchiveDir}, nil
	}
	return nil, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ArchiveS3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ArchiveS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ArchiveS3Endpoint)
		}
		o.UsePathStyle = cfg.ArchiveS3PathStyle
	}), nil
}

func (a *Archiver) Handle(_ context.Context, e events.Event) error {
	if e.Type != events.JobCompleted && e.Type != events.JobCancelled {
		return nil
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if _, err := a.Archive(ctx, e.JobRef, e.Type); err != nil {
			a.logger.Error("history archive failed", "job_ref", e.JobRef, "error", err)
		}
	}()
	return nil
}

// Archive exports the job synchronously and returns the object location.
func (a *Archiver) Archive(ctx context.Context, jobRef string, reason events.Type) (string, error) {
	lc, err := a.source.GetByJob(ctx, jobRef)
	if err != nil {
		telemetry.ArchivedJobs.WithLabelValues("error").Inc()
		return "", err
	}
	history, err := a.source.History(ctx, jobRef)
	if err != nil {
		telemetry.ArchivedJobs.WithLabelValues("error").Inc()
		return "", err
	}
	at := a.now().UTC()
	body, err := json.MarshalIndent(Record{
		JobRef:     jobRef,
		Reason:     reason,
		Lifecycle:  lc,
		History:    history,
		ArchivedAt: at,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode archive: %w", err)
	}
	key := Key(jobRef, at)
	location, err := a.uploader.Upload(ctx, key, body, "application/json")
	if err != nil {
		telemetry.ArchivedJobs.WithLabelValues("error").Inc()
		return "", err
	}
	telemetry.ArchivedJobs.WithLabelValues("ok").Inc()
	a.logger.Info("history archived", "job_ref", jobRef, "location", location, "entries", len(history))
	return location, nil
}

// Wait blocks until background exports have finished.
func (a *Archiver) Wait() {
	a.wg.Wait()
}

// Key builds the object key for a job archive.
func Key(jobRef string, at time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, jobRef)
	return fmt.Sprintf("lifecycles/%s/%s.json", safe, at.UTC().Format("20060102T150405.000Z"))
}

type LocalUploader struct {
	baseDir string
}

func NewLocalUploader(baseDir string) *LocalUploader {
	return &LocalUploader{baseDir: baseDir}
}

func (l *LocalUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type S3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"socwatch/internal/config"
	"socwatch/internal/schema"
)

// S3Archiver uploads evicted events to S3 as gzipped JSON Lines objects.
// Events leaving the retention window are gone from memory for good, so
// this is the only place they survive. Uploads happen off the pipeline
// goroutine; a full internal buffer drops events rather than stall
// eviction.
type S3Archiver struct {
	client *s3.Client
	cfg    config.S3Config
	logger *slog.Logger

	in     chan *schema.SecurityEvent
	done   chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	archived atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
	uploads  atomic.Uint64
}

// NewS3Archiver builds the S3 client and starts the upload worker.
func NewS3Archiver(ctx context.Context, cfg config.S3Config, logger *slog.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 archive: bucket is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	a := &S3Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		cfg:    cfg,
		logger: logger.With("component", "s3-archive"),
		in:     make(chan *schema.SecurityEvent, cfg.BatchSize*4),
		done:   make(chan struct{}),
	}

	a.wg.Add(1)
	go a.uploadLoop()

	a.logger.Info("s3 archive started",
		"bucket", cfg.Bucket,
		"prefix", cfg.Prefix,
		"batch_size", cfg.BatchSize,
	)

	return a, nil
}

// Write queues an evicted event for cold storage. Never blocks.
func (a *S3Archiver) Write(event *schema.SecurityEvent) {
	select {
	case a.in <- event:
	default:
		a.dropped.Add(1)
	}
}

func (a *S3Archiver) uploadLoop() {
	defer a.wg.Done()

	batch := make([]*schema.SecurityEvent, 0, a.cfg.BatchSize)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		a.upload(batch)
		batch = batch[:0]
	}

	for {
		select {
		case event := <-a.in:
			batch = append(batch, event)
			if len(batch) >= a.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-a.done:
			for {
				select {
				case event := <-a.in:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// upload gzips the batch as JSON Lines and puts one object per batch.
func (a *S3Archiver) upload(events []*schema.SecurityEvent) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)

	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			a.failed.Add(uint64(len(events)))
			a.logger.Error("encode batch failed", "error", err)
			return
		}
	}
	if err := gz.Close(); err != nil {
		a.failed.Add(uint64(len(events)))
		a.logger.Error("compress batch failed", "error", err)
		return
	}

	now := time.Now().UTC()
	key := path.Join(
		a.cfg.Prefix,
		"evicted",
		now.Format("2006/01/02"),
		fmt.Sprintf("%s.jsonl.gz", uuid.New()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:          aws.String(a.cfg.Bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/gzip"),
		ContentEncoding: aws.String("gzip"),
	}
	if a.cfg.StorageClass != "" {
		input.StorageClass = types.StorageClass(a.cfg.StorageClass)
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		a.failed.Add(uint64(len(events)))
		a.logger.Error("upload failed", "key", key, "error", err)
		return
	}

	a.archived.Add(uint64(len(events)))
	a.uploads.Add(1)
	a.logger.Debug("batch archived", "key", key, "count", len(events), "bytes", buf.Len())
}

// Close flushes pending events and stops the worker.
func (a *S3Archiver) Close() error {
	if a.closed.Swap(true) {
		return nil
	}

	close(a.done)
	a.wg.Wait()

	a.logger.Info("s3 archive stopped",
		"archived", a.archived.Load(),
		"dropped", a.dropped.Load(),
		"failed", a.failed.Load(),
	)
	return nil
}

// S3Metrics reports cold archive counters.
type S3Metrics struct {
	Archived uint64
	Dropped  uint64
	Failed   uint64
	Uploads  uint64
}

// Metrics returns the current archive counters.
func (a *S3Archiver) Metrics() S3Metrics {
	return S3Metrics{
		Archived: a.archived.Load(),
		Dropped:  a.dropped.Load(),
		Failed:   a.failed.Load(),
		Uploads:  a.uploads.Load(),
	}
}

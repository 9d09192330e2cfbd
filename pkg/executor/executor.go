// Package executor runs upload sessions: it validates the bucket, transfers
// every manifest entry sequentially or with a worker pool, and optionally
// makes the uploaded prefix public afterwards.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/yuya-takeyama/strict-s3-upload/pkg/manifest"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/metrics"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/policy"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3err"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/transfer"
)

const (
	DefaultConcurrency = 32
	DefaultMaxAttempts = 3
)

// AccessGranter makes a prefix of a bucket publicly readable.
// *policy.Mutator implements it.
type AccessGranter interface {
	GrantPublic(ctx context.Context, uri, bucket string, asDirectory bool) (*policy.Document, error)
}

var _ AccessGranter = (*policy.Mutator)(nil)

type Option func(*Executor)

// WithClient injects the S3 client. Without it New builds one from the
// AWS config given by WithAWSConfig.
func WithClient(client s3client.Client) Option {
	return func(e *Executor) {
		e.client = client
	}
}

func WithAWSConfig(cfg s3client.Config) Option {
	return func(e *Executor) {
		e.awsConfig = cfg
	}
}

// WithGranter enables the public grant after runs of public sessions.
func WithGranter(g AccessGranter) Option {
	return func(e *Executor) {
		e.granter = g
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func WithMaxAttempts(n uint) Option {
	return func(e *Executor) {
		e.maxAttempts = n
	}
}

func WithPartSize(size int64) Option {
	return func(e *Executor) {
		e.partSize = size
	}
}

type Executor struct {
	client      s3client.Client
	awsConfig   s3client.Config
	granter     AccessGranter
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	maxAttempts uint
	partSize    int64
	transferer  *transfer.Transferer
}

func New(ctx context.Context, opts ...Option) (*Executor, error) {
	e := &Executor{
		logger:      zerolog.Nop(),
		maxAttempts: DefaultMaxAttempts,
		partSize:    transfer.DefaultPartSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		client, err := s3client.NewAWSClient(ctx, e.awsConfig)
		if err != nil {
			return nil, err
		}
		e.client = client
	}

	t, err := transfer.NewTransferer(e.client,
		transfer.WithPartSize(e.partSize),
		transfer.WithLogger(e.logger),
	)
	if err != nil {
		return nil, err
	}
	e.transferer = t

	return e, nil
}

// Validate probes bucket with a single HeadBucket call.
func (e *Executor) Validate(ctx context.Context, bucket string) bool {
	_, err := e.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		e.logger.Error().Err(err).Str("bucket", bucket).Msg("bucket is not reachable")
		return false
	}
	return true
}

// RunSequential uploads the manifest in order and returns the outcomes in
// manifest order.
func (e *Executor) RunSequential(ctx context.Context, s *Session) ([]transfer.Outcome, error) {
	if !e.Validate(ctx, s.Bucket) {
		return nil, fmt.Errorf("%w: s3://%s", s3err.ErrConnectionInvalid, s.Bucket)
	}

	start := time.Now()
	entries := s.Manifest()

	outcomes := make([]transfer.Outcome, 0, len(entries))
	for i, entry := range entries {
		outcomes = append(outcomes, e.transfer(ctx, s.Bucket, i, entry))
	}

	e.finish(ctx, s, outcomes, start)
	return outcomes, nil
}

// RunParallel uploads the manifest with a pool of workers and returns the
// outcomes in completion order. Outcome.Index is the manifest position.
// workers <= 0 means DefaultConcurrency.
func (e *Executor) RunParallel(ctx context.Context, s *Session, workers int) ([]transfer.Outcome, error) {
	if !e.Validate(ctx, s.Bucket) {
		return nil, fmt.Errorf("%w: s3://%s", s3err.ErrConnectionInvalid, s.Bucket)
	}
	if workers <= 0 {
		workers = DefaultConcurrency
	}

	start := time.Now()
	entries := s.Manifest()

	jobs := make(chan int, len(entries))
	results := make(chan transfer.Outcome, len(entries))

	var wg sync.WaitGroup
	for n := 0; n < min(workers, max(len(entries), 1)); n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results <- e.transfer(ctx, s.Bucket, i, entries[i])
			}
		}()
	}

	for i := range entries {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	close(results)

	outcomes := make([]transfer.Outcome, 0, len(entries))
	for o := range results {
		outcomes = append(outcomes, o)
	}

	e.finish(ctx, s, outcomes, start)
	return outcomes, nil
}

func (e *Executor) transfer(ctx context.Context, bucket string, index int, entry manifest.Entry) transfer.Outcome {
	o := e.transferer.Transfer(ctx, entry.LocalPath, entry.RemoteKey, bucket, e.maxAttempts)
	o.Index = index
	if o.Size == 0 {
		o.Size = entry.Size
	}
	if e.metrics != nil {
		e.metrics.ObserveOutcome(o)
	}
	return o
}

func (e *Executor) finish(ctx context.Context, s *Session, outcomes []transfer.Outcome, start time.Time) {
	s.outcomes = outcomes
	s.accessLevel, s.accessError = e.grant(ctx, s)
	s.elapsed = time.Since(start)

	var uploaded uint64
	for _, o := range outcomes {
		if o.Succeeded {
			uploaded += o.Size
		}
	}

	failures := len(s.Failures())
	event := e.logger.Info()
	if failures > 0 {
		event = e.logger.Warn()
	}
	event.
		Str("session", s.ID).
		Int("files", len(outcomes)).
		Int("failed", failures).
		Str("uploaded", humanize.IBytes(uploaded)).
		Dur("elapsed", s.elapsed).
		Str("access", s.accessLevel).
		Msg("run finished")

	if e.metrics != nil {
		e.metrics.ObserveRun(s.elapsed.Seconds(), s.accessLevel)
	}
}

// grant returns the access level of the session's prefix and, when the grant
// did not go through, why.
func (e *Executor) grant(ctx context.Context, s *Session) (string, string) {
	if !s.Public {
		return AccessPrivate, ""
	}
	if e.granter == nil {
		return AccessPrivate, "public access requested but no access granter is configured"
	}

	uri := s3client.FormatS3Path(s.Bucket, s.Prefix())
	_, err := e.granter.GrantPublic(ctx, uri, s.Bucket, true)
	switch {
	case err == nil:
		return AccessPublic, ""
	case errors.Is(err, s3err.ErrAlreadyPublic):
		e.logger.Info().Err(err).Str("uri", uri).Msg("prefix is already public")
		return AccessPublic, err.Error()
	default:
		e.logger.Error().Err(err).Str("uri", uri).Msg("failed to grant public access")
		return AccessPrivate, err.Error()
	}
}

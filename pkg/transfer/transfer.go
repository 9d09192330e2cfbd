// Package transfer uploads single files to S3, using one PutObject for small
// files and a multipart upload for large ones, retrying whole attempts.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/yuya-takeyama/strict-s3-upload/internal/checksum"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3err"
)

// MultipartThreshold is the size from which files are sent as multipart
// uploads.
const MultipartThreshold = 5 * 1024 * 1024

// Outcome is the result of transferring one manifest entry.
type Outcome struct {
	Index     int           `json:"index"`
	LocalPath string        `json:"local_path"`
	RemoteKey string        `json:"remote_key"`
	Size      uint64        `json:"size"`
	Succeeded bool          `json:"succeeded"`
	Attempts  uint          `json:"attempts"`
	Multipart bool          `json:"multipart"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	Err       error         `json:"-"`
}

// Option configures a Transferer.
type Option func(*Transferer)

// WithPartSize sets the multipart chunk size. Values below MinPartSize make
// NewTransferer fail.
func WithPartSize(size int64) Option {
	return func(t *Transferer) {
		t.partSize = size
	}
}

// WithLogger sets the logger used for per-file and per-part events.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transferer) {
		t.logger = logger
	}
}

// Transferer uploads a single file, choosing a single PutObject or a
// multipart upload by size.
type Transferer struct {
	client    s3client.Client
	multipart *Multipart
	partSize  int64
	threshold int64
	logger    zerolog.Logger
}

// NewTransferer returns a Transferer using client. It fails when the part
// size is invalid.
func NewTransferer(client s3client.Client, opts ...Option) (*Transferer, error) {
	t := &Transferer{
		client:    client,
		partSize:  DefaultPartSize,
		threshold: MultipartThreshold,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	mp, err := NewMultipart(client, t.partSize, t.logger)
	if err != nil {
		return nil, err
	}
	t.multipart = mp

	return t, nil
}

// Transfer uploads localPath to bucket/remoteKey, making at most maxAttempts
// attempts (0 counts as 1). Failures are reported in the Outcome; Transfer
// itself never fails.
func (t *Transferer) Transfer(ctx context.Context, localPath, remoteKey, bucket string, maxAttempts uint) Outcome {
	start := time.Now()
	outcome := Outcome{
		LocalPath: localPath,
		RemoteKey: remoteKey,
	}

	log := t.logger.With().Str("source", localPath).Str("target", s3client.FormatS3Path(bucket, remoteKey)).Logger()

	if _, err := os.Stat(localPath); err != nil && errors.Is(err, fs.ErrNotExist) {
		outcome.Err = fmt.Errorf("%w: %s", s3err.ErrFileNotFound, localPath)
		outcome.Error = outcome.Err.Error()
		outcome.Duration = time.Since(start)
		log.Error().Err(outcome.Err).Msg("upload failed")
		return outcome
	}

	if maxAttempts == 0 {
		maxAttempts = 1
	}

	var lastErr error
	for outcome.Attempts < maxAttempts {
		outcome.Attempts++

		size, multipart, err := t.attempt(ctx, localPath, remoteKey, bucket)
		outcome.Size = size
		outcome.Multipart = multipart
		if err == nil {
			outcome.Succeeded = true
			lastErr = nil
			break
		}

		lastErr = err
		log.Warn().Err(err).Uint("attempt", outcome.Attempts).Uint("max_attempts", maxAttempts).Msg("upload attempt failed")

		if errors.Is(err, s3err.ErrFileNotFound) || errors.Is(err, s3err.ErrInvalidPartSize) {
			break
		}
	}

	outcome.Duration = time.Since(start)

	if lastErr != nil {
		outcome.Err = fmt.Errorf("%w after %d attempt(s): %w", s3err.ErrTransferFailed, outcome.Attempts, lastErr)
		outcome.Error = outcome.Err.Error()
		log.Error().Err(lastErr).Uint("attempts", outcome.Attempts).Msg("upload failed")
		return outcome
	}

	log.Info().Uint64("size", outcome.Size).Bool("multipart", outcome.Multipart).Msg("upload")
	return outcome
}

func (t *Transferer) attempt(ctx context.Context, localPath, remoteKey, bucket string) (uint64, bool, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, fmt.Errorf("%w: %s", s3err.ErrFileNotFound, localPath)
		}
		return 0, false, fmt.Errorf("stat file: %w", err)
	}
	size := uint64(info.Size())

	if info.Size() >= t.threshold {
		_, err := t.multipart.Run(ctx, localPath, remoteKey, bucket)
		return size, true, err
	}

	return size, false, t.putObject(ctx, localPath, remoteKey, bucket)
}

func (t *Transferer) putObject(ctx context.Context, localPath, remoteKey, bucket string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", s3err.ErrFileNotFound, localPath)
		}
		return fmt.Errorf("read file: %w", err)
	}

	_, err = t.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(bucket),
		Key:               aws.String(remoteKey),
		Body:              bytes.NewReader(data),
		ContentLength:     aws.Int64(int64(len(data))),
		ContentType:       aws.String(mimetype.Detect(data).String()),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    aws.String(checksum.SHA256(data)),
	})
	if err != nil {
		return s3err.NewObjectError("PutObject", bucket, remoteKey, err)
	}

	return nil
}

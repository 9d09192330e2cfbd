package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/yuya-takeyama/strict-s3-upload/internal/checksum"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3err"
)

const (
	// MinPartSize is the smallest non-final part S3 accepts.
	MinPartSize     = 5 * 1024 * 1024
	DefaultPartSize = MinPartSize
)

// Part is one uploaded chunk of a multipart upload.
type Part struct {
	Number   int32
	ETag     string
	Checksum string
	Size     int64
}

// Result describes a completed multipart upload.
type Result struct {
	UploadID string
	ETag     string
	Parts    []Part
	Size     int64
}

// AbortError reports a failed AbortMultipartUpload. It never replaces the
// error that triggered the abort; it is joined after it.
type AbortError struct {
	UploadID string
	Err      error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("abort multipart upload %s: %v", e.UploadID, e.Err)
}

func (e *AbortError) Unwrap() []error {
	return []error{s3err.ErrMultipartAbortFailed, e.Err}
}

// Multipart uploads one file as a sequence of fixed-size parts.
type Multipart struct {
	client   s3client.Client
	partSize int64
	logger   zerolog.Logger
}

// NewMultipart fails with s3err.ErrInvalidPartSize when partSize is below
// MinPartSize.
func NewMultipart(client s3client.Client, partSize int64, logger zerolog.Logger) (*Multipart, error) {
	if partSize < MinPartSize {
		return nil, fmt.Errorf("%w: %s is below the %s minimum",
			s3err.ErrInvalidPartSize, humanize.IBytes(uint64(max(partSize, 0))), humanize.IBytes(MinPartSize))
	}
	return &Multipart{
		client:   client,
		partSize: partSize,
		logger:   logger,
	}, nil
}

// PartSize returns the size of every part except the last.
func (m *Multipart) PartSize() int64 {
	return m.partSize
}

// Run creates the upload, sends every part in order and completes it. Any
// failure after the upload was created aborts it before Run returns.
func (m *Multipart) Run(ctx context.Context, localPath, remoteKey, bucket string) (result *Result, err error) {
	file, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", s3err.ErrFileNotFound, localPath)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	input := &s3.CreateMultipartUploadInput{
		Bucket:            aws.String(bucket),
		Key:               aws.String(remoteKey),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	if mt, err := mimetype.DetectFile(localPath); err == nil {
		input.ContentType = aws.String(mt.String())
	}

	createResp, err := m.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return nil, s3err.NewObjectError("CreateMultipartUpload", bucket, remoteKey, err)
	}
	uploadID := aws.ToString(createResp.UploadId)

	log := m.logger.With().Str("bucket", bucket).Str("key", remoteKey).Str("upload_id", uploadID).Logger()
	log.Debug().Msg("multipart upload created")

	defer func() {
		if err != nil {
			result = nil
			err = m.abort(ctx, log, bucket, remoteKey, uploadID, err)
		}
	}()

	parts, err := m.uploadParts(ctx, log, file, bucket, remoteKey, uploadID)
	if err != nil {
		return nil, err
	}

	completed := make([]types.CompletedPart, len(parts))
	var size int64
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:           aws.String(p.ETag),
			PartNumber:     aws.Int32(p.Number),
			ChecksumSHA256: aws.String(p.Checksum),
		}
		size += p.Size
	}

	completeResp, err := m.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(remoteKey),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return nil, s3err.NewObjectError("CompleteMultipartUpload", bucket, remoteKey, err)
	}

	log.Debug().Int("parts", len(parts)).Str("size", humanize.IBytes(uint64(size))).Msg("multipart upload completed")

	return &Result{
		UploadID: uploadID,
		ETag:     aws.ToString(completeResp.ETag),
		Parts:    parts,
		Size:     size,
	}, nil
}

// uploadParts streams the file in partSize chunks. An empty file still
// produces one (empty) part so the upload can be completed.
func (m *Multipart) uploadParts(ctx context.Context, log zerolog.Logger, r io.Reader, bucket, key, uploadID string) ([]Part, error) {
	buf := make([]byte, m.partSize)
	var parts []Part

	for partNumber := int32(1); ; partNumber++ {
		n, readErr := io.ReadFull(r, buf)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return parts, fmt.Errorf("read part %d: %w", partNumber, readErr)
		}
		if n == 0 && len(parts) > 0 {
			break
		}

		data := buf[:n]
		sum := checksum.SHA256(data)

		resp, err := m.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:         aws.String(bucket),
			Key:            aws.String(key),
			UploadId:       aws.String(uploadID),
			PartNumber:     aws.Int32(partNumber),
			Body:           bytes.NewReader(data),
			ContentLength:  aws.Int64(int64(n)),
			ChecksumSHA256: aws.String(sum),
		})
		if err != nil {
			return parts, s3err.NewObjectError(fmt.Sprintf("UploadPart %d", partNumber), bucket, key, err)
		}
		if resp.ChecksumSHA256 != nil && !checksum.Equal(sum, aws.ToString(resp.ChecksumSHA256)) {
			return parts, fmt.Errorf("part %d checksum mismatch: sent %s, store reported %s",
				partNumber, sum, aws.ToString(resp.ChecksumSHA256))
		}

		parts = append(parts, Part{
			Number:   partNumber,
			ETag:     aws.ToString(resp.ETag),
			Checksum: sum,
			Size:     int64(n),
		})
		log.Debug().Int32("part", partNumber).Int("bytes", n).Msg("part uploaded")

		if readErr != nil {
			break
		}
	}

	return parts, nil
}

// abort is sent even when ctx has been cancelled.
func (m *Multipart) abort(ctx context.Context, log zerolog.Logger, bucket, key, uploadID string, cause error) error {
	_, err := m.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		log.Warn().Err(err).AnErr("cause", cause).Msg("failed to abort multipart upload")
		return errors.Join(cause, &AbortError{UploadID: uploadID, Err: err})
	}

	log.Info().AnErr("cause", cause).Msg("multipart upload aborted")
	return cause
}

package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-s3-upload/internal/checksum"
	"github.com/yuya-takeyama/strict-s3-upload/internal/testutil"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3err"
)

const mib = 1024 * 1024

func TestTransfer_SmallFileUsesSinglePut(t *testing.T) {
	root := t.TempDir()
	path := testutil.WriteFile(t, root, "small.txt", 2048)
	want, err := os.ReadFile(path)
	require.NoError(t, err)

	client := &testutil.MockClient{
		PutObjectFunc: func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			assert.Equal(t, "test-bucket", aws.ToString(in.Bucket))
			assert.Equal(t, "uploads/small.txt", aws.ToString(in.Key))
			assert.Equal(t, int64(2048), aws.ToInt64(in.ContentLength))
			assert.Equal(t, checksum.SHA256(want), aws.ToString(in.ChecksumSHA256))
			assert.NotEmpty(t, aws.ToString(in.ContentType))
			return &s3.PutObjectOutput{}, nil
		},
	}
	tr, err := NewTransferer(client)
	require.NoError(t, err)

	out := tr.Transfer(context.Background(), path, "uploads/small.txt", "test-bucket", 3)

	assert.True(t, out.Succeeded)
	assert.Equal(t, uint(1), out.Attempts)
	assert.False(t, out.Multipart)
	assert.Equal(t, uint64(2048), out.Size)
	assert.Empty(t, out.Error)
	assert.NoError(t, out.Err)
	assert.Equal(t, 1, client.Calls("PutObject"))
	assert.Equal(t, 0, client.Calls("CreateMultipartUpload"))

	got, ok := client.Object("uploads/small.txt")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestTransfer_LargeFileUsesMultipart(t *testing.T) {
	root := t.TempDir()
	path := testutil.WriteFile(t, root, "large.bin", 6*mib)

	var completed []int32
	client := &testutil.MockClient{
		CompleteMultipartUploadFunc: func(ctx context.Context, in *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			for _, p := range in.MultipartUpload.Parts {
				completed = append(completed, aws.ToInt32(p.PartNumber))
				assert.NotEmpty(t, aws.ToString(p.ETag))
				assert.NotEmpty(t, aws.ToString(p.ChecksumSHA256))
			}
			return &s3.CompleteMultipartUploadOutput{}, nil
		},
	}
	tr, err := NewTransferer(client)
	require.NoError(t, err)

	out := tr.Transfer(context.Background(), path, "uploads/large.bin", "test-bucket", 3)

	assert.True(t, out.Succeeded)
	assert.True(t, out.Multipart)
	assert.Equal(t, uint(1), out.Attempts)
	assert.Equal(t, 0, client.Calls("PutObject"))
	assert.Equal(t, 1, client.Calls("CreateMultipartUpload"))
	assert.Equal(t, 2, client.Calls("UploadPart"))
	assert.Equal(t, 1, client.Calls("CompleteMultipartUpload"))
	assert.Equal(t, 0, client.Calls("AbortMultipartUpload"))
	assert.Equal(t, []int{5 * mib, 1 * mib}, client.PartSizes("uploads/large.bin"))
	assert.Equal(t, []int32{1, 2}, completed)
}

func TestTransfer_FileAtThresholdUsesMultipart(t *testing.T) {
	root := t.TempDir()
	path := testutil.WriteFile(t, root, "edge.bin", MultipartThreshold)

	client := &testutil.MockClient{}
	tr, err := NewTransferer(client)
	require.NoError(t, err)

	out := tr.Transfer(context.Background(), path, "edge.bin", "b", 1)

	assert.True(t, out.Succeeded)
	assert.True(t, out.Multipart)
	assert.Equal(t, []int{MultipartThreshold}, client.PartSizes("edge.bin"))
}

func TestTransfer_AlwaysFailingStopsAtMaxAttempts(t *testing.T) {
	root := t.TempDir()
	path := testutil.WriteFile(t, root, "small.txt", 10)
	boom := errors.New("service unavailable")

	client := &testutil.MockClient{
		PutObjectFunc: func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			return nil, boom
		},
	}
	tr, err := NewTransferer(client)
	require.NoError(t, err)

	for _, maxAttempts := range []uint{1, 3, 5} {
		before := client.Calls("PutObject")
		out := tr.Transfer(context.Background(), path, "k", "b", maxAttempts)

		assert.False(t, out.Succeeded)
		assert.Equal(t, maxAttempts, out.Attempts)
		assert.Equal(t, int(maxAttempts), client.Calls("PutObject")-before)
		assert.ErrorIs(t, out.Err, s3err.ErrTransferFailed)
		assert.ErrorIs(t, out.Err, boom)
		assert.Contains(t, out.Error, "service unavailable")
	}
}

func TestTransfer_RetriesUntilSuccess(t *testing.T) {
	root := t.TempDir()
	path := testutil.WriteFile(t, root, "small.txt", 10)

	failures := 2
	client := &testutil.MockClient{
		PutObjectFunc: func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			if failures > 0 {
				failures--
				return nil, errors.New("slow down")
			}
			return &s3.PutObjectOutput{}, nil
		},
	}
	tr, err := NewTransferer(client)
	require.NoError(t, err)

	out := tr.Transfer(context.Background(), path, "k", "b", 5)

	assert.True(t, out.Succeeded)
	assert.Equal(t, uint(3), out.Attempts)
	assert.NoError(t, out.Err)
}

func TestTransfer_ZeroMaxAttemptsMeansOne(t *testing.T) {
	root := t.TempDir()
	path := testutil.WriteFile(t, root, "small.txt", 10)

	client := &testutil.MockClient{
		PutObjectFunc: func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			return nil, errors.New("nope")
		},
	}
	tr, err := NewTransferer(client)
	require.NoError(t, err)

	out := tr.Transfer(context.Background(), path, "k", "b", 0)
	assert.Equal(t, uint(1), out.Attempts)
	assert.Equal(t, 1, client.Calls("PutObject"))
}

func TestTransfer_MissingFileFailsFast(t *testing.T) {
	client := &testutil.MockClient{}
	tr, err := NewTransferer(client)
	require.NoError(t, err)

	out := tr.Transfer(context.Background(), filepath.Join(t.TempDir(), "missing"), "k", "b", 3)

	assert.False(t, out.Succeeded)
	assert.Equal(t, uint(0), out.Attempts)
	assert.ErrorIs(t, out.Err, s3err.ErrFileNotFound)
	assert.Equal(t, 0, client.TotalCalls())
}

func TestTransfer_MultipartRetryStartsFromScratch(t *testing.T) {
	root := t.TempDir()
	path := testutil.WriteFile(t, root, "large.bin", 6*mib)

	failed := false
	client := &testutil.MockClient{
		UploadPartFunc: func(ctx context.Context, in *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
			if aws.ToInt32(in.PartNumber) == 2 && !failed {
				failed = true
				return nil, errors.New("connection reset")
			}
			return &s3.UploadPartOutput{ETag: aws.String("e")}, nil
		},
	}
	tr, err := NewTransferer(client)
	require.NoError(t, err)

	out := tr.Transfer(context.Background(), path, "large.bin", "b", 2)

	assert.True(t, out.Succeeded)
	assert.Equal(t, uint(2), out.Attempts)
	assert.Equal(t, 2, client.Calls("CreateMultipartUpload"))
	assert.Equal(t, 1, client.Calls("AbortMultipartUpload"))
	assert.Equal(t, 4, client.Calls("UploadPart"))
	assert.Equal(t, 1, client.Calls("CompleteMultipartUpload"))
}

func TestNewTransferer_RejectsSmallPartSize(t *testing.T) {
	_, err := NewTransferer(&testutil.MockClient{}, WithPartSize(1*mib))
	assert.ErrorIs(t, err, s3err.ErrInvalidPartSize)
}

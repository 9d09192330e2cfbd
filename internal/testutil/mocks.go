// Package testutil provides a scriptable s3client.Client for tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3client"
)

// MockClient implements s3client.Client. Each operation delegates to its
// func field when set and otherwise succeeds. Every call is counted, and
// object bodies written through PutObject and UploadPart are captured.
type MockClient struct {
	HeadBucketFunc              func(context.Context, *s3.HeadBucketInput) (*s3.HeadBucketOutput, error)
	PutObjectFunc               func(context.Context, *s3.PutObjectInput) (*s3.PutObjectOutput, error)
	CreateMultipartUploadFunc   func(context.Context, *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error)
	UploadPartFunc              func(context.Context, *s3.UploadPartInput) (*s3.UploadPartOutput, error)
	CompleteMultipartUploadFunc func(context.Context, *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUploadFunc    func(context.Context, *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error)
	GetBucketPolicyFunc         func(context.Context, *s3.GetBucketPolicyInput) (*s3.GetBucketPolicyOutput, error)
	PutBucketPolicyFunc         func(context.Context, *s3.PutBucketPolicyInput) (*s3.PutBucketPolicyOutput, error)

	mu        sync.Mutex
	calls     map[string]int
	objects   map[string][]byte
	partSizes map[string][]int
}

var _ s3client.Client = (*MockClient)(nil)

func (m *MockClient) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
}

// Calls returns how many times op (e.g. "PutObject") was invoked.
func (m *MockClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Object returns the body captured by the last successful PutObject on key.
func (m *MockClient) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

// PartSizes returns the body sizes of parts uploaded for key, in call order.
func (m *MockClient) PartSizes(key string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.partSizes[key]...)
}

func (m *MockClient) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	m.record("HeadBucket")
	if m.HeadBucketFunc != nil {
		return m.HeadBucketFunc(ctx, params)
	}
	return &s3.HeadBucketOutput{}, nil
}

func (m *MockClient) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.record("PutObject")

	var body []byte
	if params.Body != nil {
		data, err := io.ReadAll(params.Body)
		if err != nil {
			return nil, err
		}
		body = data
	}

	if m.PutObjectFunc != nil {
		out, err := m.PutObjectFunc(ctx, params)
		if err != nil {
			return nil, err
		}
		m.store(aws.ToString(params.Key), body)
		return out, nil
	}

	m.store(aws.ToString(params.Key), body)
	return &s3.PutObjectOutput{ETag: aws.String(`"put"`)}, nil
}

func (m *MockClient) store(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = body
}

func (m *MockClient) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	m.record("CreateMultipartUpload")
	if m.CreateMultipartUploadFunc != nil {
		return m.CreateMultipartUploadFunc(ctx, params)
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-" + aws.ToString(params.Key))}, nil
}

func (m *MockClient) UploadPart(ctx context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	m.record("UploadPart")

	var size int
	if params.Body != nil {
		n, err := io.Copy(io.Discard, params.Body)
		if err != nil {
			return nil, err
		}
		size = int(n)
	}

	m.mu.Lock()
	if m.partSizes == nil {
		m.partSizes = make(map[string][]int)
	}
	key := aws.ToString(params.Key)
	m.partSizes[key] = append(m.partSizes[key], size)
	m.mu.Unlock()

	if m.UploadPartFunc != nil {
		return m.UploadPartFunc(ctx, params)
	}
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf(`"etag-%d"`, aws.ToInt32(params.PartNumber)))}, nil
}

func (m *MockClient) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	m.record("CompleteMultipartUpload")
	if m.CompleteMultipartUploadFunc != nil {
		return m.CompleteMultipartUploadFunc(ctx, params)
	}
	return &s3.CompleteMultipartUploadOutput{ETag: aws.String(`"complete"`)}, nil
}

func (m *MockClient) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	m.record("AbortMultipartUpload")
	if m.AbortMultipartUploadFunc != nil {
		return m.AbortMultipartUploadFunc(ctx, params)
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (m *MockClient) GetBucketPolicy(ctx context.Context, params *s3.GetBucketPolicyInput, _ ...func(*s3.Options)) (*s3.GetBucketPolicyOutput, error) {
	m.record("GetBucketPolicy")
	if m.GetBucketPolicyFunc != nil {
		return m.GetBucketPolicyFunc(ctx, params)
	}
	return &s3.GetBucketPolicyOutput{Policy: aws.String(`{"Version":"2012-10-17","Statement":[]}`)}, nil
}

func (m *MockClient) PutBucketPolicy(ctx context.Context, params *s3.PutBucketPolicyInput, _ ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error) {
	m.record("PutBucketPolicy")
	if m.PutBucketPolicyFunc != nil {
		return m.PutBucketPolicyFunc(ctx, params)
	}
	return &s3.PutBucketPolicyOutput{}, nil
}

// TotalCalls sums the counts of every operation.
func (m *MockClient) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

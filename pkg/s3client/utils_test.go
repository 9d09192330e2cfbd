package s3client

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"

	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3err"
)

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{name: "bucket only", uri: "s3://mybucket", wantBucket: "mybucket"},
		{name: "bucket with trailing slash", uri: "s3://mybucket/", wantBucket: "mybucket"},
		{name: "bucket with prefix", uri: "s3://mybucket/prefix", wantBucket: "mybucket", wantPrefix: "prefix"},
		{name: "nested prefix with trailing slash", uri: "s3://mybucket/prefix/subdir/", wantBucket: "mybucket", wantPrefix: "prefix/subdir"},
		{name: "multiple trailing slashes", uri: "s3://mybucket/prefix/subdir///", wantBucket: "mybucket", wantPrefix: "prefix/subdir"},
		{name: "duplicate inner slashes", uri: "s3://mybucket/a//b", wantBucket: "mybucket", wantPrefix: "a/b"},
		{name: "invalid scheme", uri: "http://mybucket/prefix", wantErr: true},
		{name: "no scheme", uri: "mybucket/prefix", wantErr: true},
		{name: "empty bucket", uri: "s3:///prefix", wantErr: true},
		{name: "just scheme", uri: "s3://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotBucket, gotPrefix, err := ParseS3URI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseS3URI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, s3err.ErrInvalidURI) {
					t.Errorf("ParseS3URI() error = %v, want ErrInvalidURI", err)
				}
				return
			}
			if gotBucket != tt.wantBucket {
				t.Errorf("ParseS3URI() gotBucket = %v, want %v", gotBucket, tt.wantBucket)
			}
			if gotPrefix != tt.wantPrefix {
				t.Errorf("ParseS3URI() gotPrefix = %v, want %v", gotPrefix, tt.wantPrefix)
			}
		})
	}
}

func TestJoinKey(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		want   string
	}{
		{"uploads", "a.txt", "uploads/a.txt"},
		{"uploads/", "a.txt", "uploads/a.txt"},
		{"", "a.txt", "a.txt"},
		{"/uploads/2024/", "/dir/a.txt", "uploads/2024/dir/a.txt"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s+%s", tt.prefix, tt.name), func(t *testing.T) {
			if got := JoinKey(tt.prefix, tt.name); got != tt.want {
				t.Errorf("JoinKey(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	notFound := &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "gone"}
	wrapped := fmt.Errorf("head bucket: %w", notFound)
	denied := &smithy.GenericAPIError{Code: "AccessDenied"}

	if !IsNotFound(wrapped) {
		t.Errorf("IsNotFound(%v) = false, want true", wrapped)
	}
	if IsNotFound(denied) {
		t.Errorf("IsNotFound(%v) = true, want false", denied)
	}
	if IsNotFound(errors.New("plain")) {
		t.Error("IsNotFound(plain error) = true, want false")
	}
	if got := ErrorCode(denied); got != "AccessDenied" {
		t.Errorf("ErrorCode() = %q, want AccessDenied", got)
	}
}

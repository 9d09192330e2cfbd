package s3client

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3err"
)

// ParseS3URI splits s3://bucket/prefix into its bucket and a prefix without
// leading or trailing slashes.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("%w: must start with s3://", s3err.ErrInvalidURI)
	}

	rest := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(rest, "/", 2)

	bucket = parts[0]
	if bucket == "" {
		return "", "", fmt.Errorf("%w: missing bucket name", s3err.ErrInvalidURI)
	}

	if len(parts) > 1 {
		prefix = CleanKey(parts[1])
	}

	return bucket, prefix, nil
}

// CleanKey normalizes a key or prefix: duplicate slashes collapse and
// leading/trailing slashes are dropped.
func CleanKey(key string) string {
	key = strings.Trim(key, "/")
	if key == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}

// JoinKey builds "{prefix}/{name}", or just name when prefix is empty.
func JoinKey(prefix, name string) string {
	prefix = CleanKey(prefix)
	name = strings.TrimLeft(name, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func FormatS3Path(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// ErrorCode returns the API error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func IsNotFound(err error) bool {
	switch ErrorCode(err) {
	case "NotFound", "NoSuchBucket", "NoSuchKey":
		return true
	}
	return false
}

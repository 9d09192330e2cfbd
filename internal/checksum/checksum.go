package checksum

import (
	"encoding/base64"

	"github.com/minio/sha256-simd"
)

// SHA256 returns the base64 encoded SHA-256 digest of data, in the format
// S3 expects for x-amz-checksum-sha256.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Equal compares two base64 encoded checksums. Empty values never match.
func Equal(a, b string) bool {
	return a != "" && a == b
}

// Package s3err defines the error values shared by the upload and policy packages.
package s3err

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDirectory        = errors.New("invalid directory")
	ErrFileNotFound            = errors.New("file not found")
	ErrInvalidPartSize         = errors.New("invalid part size")
	ErrConnectionInvalid       = errors.New("connection invalid")
	ErrFullBucketGrantRejected = errors.New("refusing to grant public access to the whole bucket")
	ErrAlreadyPublic           = errors.New("already public")
	ErrMissingPolicyStatement  = errors.New("missing policy statement")
	ErrTransferFailed          = errors.New("transfer failed")
	ErrMultipartAbortFailed    = errors.New("multipart abort failed")
	ErrInvalidURI              = errors.New("invalid S3 URI")
)

// Error carries the operation and object that an error belongs to.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Bucket != "" && e.Key != "":
		return fmt.Sprintf("%s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	case e.Bucket != "":
		return fmt.Sprintf("%s s3://%s: %v", e.Op, e.Bucket, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewBucketError(op, bucket string, err error) *Error {
	return &Error{Op: op, Bucket: bucket, Err: err}
}

func NewObjectError(op, bucket, key string, err error) *Error {
	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}

package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3err"
)

const (
	DefaultGetStatementID  = "PublicReadGetObject"
	DefaultListStatementID = "PublicListBucket"

	// PreviousPolicyKey holds the policy as it was before the last grant.
	PreviousPolicyKey = ".bucket_policy/previous_policy.json"
	// CurrentPolicyKey holds the policy written by the last grant.
	CurrentPolicyKey = ".bucket_policy/current_policy.json"

	noSuchBucketPolicy = "NoSuchBucketPolicy"
)

type MutatorOption func(*Mutator)

// WithStatementIDs sets the Sids of the statements that grant public
// s3:GetObject and s3:ListBucket.
func WithStatementIDs(get, list string) MutatorOption {
	return func(m *Mutator) {
		if get != "" {
			m.getSid = get
		}
		if list != "" {
			m.listSid = list
		}
	}
}

func WithLogger(logger zerolog.Logger) MutatorOption {
	return func(m *Mutator) {
		m.logger = logger
	}
}

// Mutator extends the public statements of a bucket policy.
//
// A grant is a read-modify-write of the bucket policy without any locking on
// the store side. Concurrent grants against one bucket can lose updates and
// must be serialized by the caller.
type Mutator struct {
	client  s3client.Client
	getSid  string
	listSid string
	logger  zerolog.Logger
}

func NewMutator(client s3client.Client, opts ...MutatorOption) *Mutator {
	m := &Mutator{
		client:  client,
		getSid:  DefaultGetStatementID,
		listSid: DefaultListStatementID,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Target normalizes uri (either s3://bucket/path or a bare path) into the
// path a grant applies to. Directory grants get a "/*" suffix.
func Target(uri, bucket string, asDirectory bool) (string, error) {
	p := uri
	if strings.HasPrefix(uri, "s3://") {
		b, prefix, err := s3client.ParseS3URI(uri)
		if err != nil {
			return "", err
		}
		if b != bucket {
			return "", fmt.Errorf("%w: %s does not belong to bucket %s", s3err.ErrInvalidURI, uri, bucket)
		}
		p = prefix
	}
	p = s3client.CleanKey(p)

	if p == "" || p == "*" {
		return "", fmt.Errorf("%w: s3://%s", s3err.ErrFullBucketGrantRejected, bucket)
	}

	if asDirectory {
		return p + "/*", nil
	}
	return p, nil
}

// GrantPublic makes the target of uri publicly readable and listable by
// appending it to the configured public statements. The previous and the new
// policy are stored in the bucket under PreviousPolicyKey and
// CurrentPolicyKey.
func (m *Mutator) GrantPublic(ctx context.Context, uri, bucket string, asDirectory bool) (*Document, error) {
	target, err := Target(uri, bucket, asDirectory)
	if err != nil {
		return nil, err
	}

	log := m.logger.With().Str("bucket", bucket).Str("target", target).Logger()

	original, err := m.fetch(ctx, bucket)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(original)
	if err != nil {
		return nil, fmt.Errorf("policy of %s: %w", bucket, err)
	}

	getStmt := doc.Statement(m.getSid)
	if getStmt == nil {
		return nil, fmt.Errorf("%w: no statement with Sid %q in policy of %s", s3err.ErrMissingPolicyStatement, m.getSid, bucket)
	}
	listStmt := doc.Statement(m.listSid)
	if listStmt == nil {
		return nil, fmt.Errorf("%w: no statement with Sid %q in policy of %s", s3err.ErrMissingPolicyStatement, m.listSid, bucket)
	}

	if covering, ok := m.coveredBy(getStmt, listStmt, bucket, target); ok {
		return nil, fmt.Errorf("%w: %s is covered by %s", s3err.ErrAlreadyPublic, s3client.FormatS3Path(bucket, target), covering)
	}

	backup, err := prettyOriginal(original, doc)
	if err != nil {
		return nil, fmt.Errorf("render previous policy: %w", err)
	}
	if err := m.store(ctx, bucket, PreviousPolicyKey, backup); err != nil {
		return nil, err
	}

	getStmt.AddResource(ResourceARN(getStmt.Partition(), bucket+"/"+target))
	if listStmt.HasPrefixCondition() {
		listStmt.AddConditionPrefix(target)
	} else {
		log.Debug().Str("sid", m.listSid).Msg("list statement has no s3:prefix condition, leaving it unchanged")
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render policy: %w", err)
	}
	if _, err := m.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(bucket),
		Policy: aws.String(string(body)),
	}); err != nil {
		return nil, s3err.NewBucketError("PutBucketPolicy", bucket, err)
	}

	current, err := doc.Pretty()
	if err != nil {
		return nil, fmt.Errorf("render current policy: %w", err)
	}
	if err := m.store(ctx, bucket, CurrentPolicyKey, current); err != nil {
		return nil, err
	}

	log.Info().Msg("granted public access")
	return doc, nil
}

// fetch returns the raw policy text; a bucket without a policy yields nil.
func (m *Mutator) fetch(ctx context.Context, bucket string) ([]byte, error) {
	resp, err := m.client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		if s3client.ErrorCode(err) == noSuchBucketPolicy {
			return nil, nil
		}
		return nil, s3err.NewBucketError("GetBucketPolicy", bucket, err)
	}
	return []byte(aws.ToString(resp.Policy)), nil
}

func (m *Mutator) store(ctx context.Context, bucket, key string, body []byte) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return s3err.NewObjectError("PutObject", bucket, key, err)
	}
	return nil
}

// coveredBy looks for an existing public get resource or list prefix that
// already includes target. A get resource ending in "*" matches as a prefix,
// any other must equal target. A list prefix matches every target it is a
// string prefix of; the empty prefix only allows listing the bucket root.
func (m *Mutator) coveredBy(getStmt, listStmt *Statement, bucket, target string) (string, bool) {
	for i, res := range getStmt.Resources {
		rel, ok := strings.CutPrefix(res, bucket+"/")
		if ok && covers(rel, target) {
			return getStmt.resourceARNs[i], true
		}
	}
	for _, prefix := range listStmt.ConditionPrefixes {
		base := strings.TrimSuffix(strings.TrimLeft(prefix, "/"), "*")
		if base != "" && strings.HasPrefix(target, base) {
			return fmt.Sprintf("%s %q", prefixConditionKey, prefix), true
		}
	}
	return "", false
}

func covers(entry, target string) bool {
	if base, ok := strings.CutSuffix(entry, "*"); ok {
		return strings.HasPrefix(target, base)
	}
	return entry == target
}

// prettyOriginal indents the policy text exactly as it was fetched.
func prettyOriginal(original []byte, doc *Document) ([]byte, error) {
	if len(bytes.TrimSpace(original)) == 0 {
		return doc.Pretty()
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, original, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

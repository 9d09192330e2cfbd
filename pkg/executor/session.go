package executor

import (
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/yuya-takeyama/strict-s3-upload/pkg/manifest"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/transfer"
)

const (
	AccessPublic  = "public"
	AccessPrivate = "private"
)

// Session is one directory bound to one bucket prefix. The manifest is
// derived from the source options and rebuilt by every setter; the run
// fields describe the most recent run.
type Session struct {
	ID     string
	Bucket string
	Public bool

	source   manifest.Options
	manifest []manifest.Entry

	outcomes    []transfer.Outcome
	elapsed     time.Duration
	accessLevel string
	accessError string
}

// NewSession builds the manifest for src. src.Prefix is the root prefix
// every key is placed under.
func NewSession(bucket string, public bool, src manifest.Options) (*Session, error) {
	s := &Session{
		ID:          uuid.NewString(),
		Bucket:      bucket,
		Public:      public,
		accessLevel: AccessPrivate,
	}
	if err := s.rebuild(func(o *manifest.Options) { *o = src }); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuild applies change to a copy of the source options and swaps in the
// new manifest only when it builds.
func (s *Session) rebuild(change func(*manifest.Options)) error {
	src := s.source
	change(&src)
	src.Prefix = s3client.CleanKey(src.Prefix)

	entries, err := manifest.Build(src)
	if err != nil {
		return err
	}

	s.source = src
	s.manifest = entries
	return nil
}

func (s *Session) SetSource(root string) error {
	return s.rebuild(func(o *manifest.Options) { o.Root = root })
}

func (s *Session) SetPattern(pattern *regexp.Regexp) error {
	return s.rebuild(func(o *manifest.Options) { o.Pattern = pattern })
}

func (s *Session) SetExcludes(patterns []string) error {
	return s.rebuild(func(o *manifest.Options) { o.Excludes = slices.Clone(patterns) })
}

func (s *Session) SetPredicate(p manifest.Predicate, desc string) error {
	return s.rebuild(func(o *manifest.Options) {
		o.Predicate = p
		o.PredicateDesc = desc
	})
}

func (s *Session) SetNameFunc(fn manifest.NameFunc) error {
	return s.rebuild(func(o *manifest.Options) { o.NameFunc = fn })
}

func (s *Session) SetRecursive(recursive bool) error {
	return s.rebuild(func(o *manifest.Options) { o.Recursive = recursive })
}

func (s *Session) SetPrefix(prefix string) error {
	return s.rebuild(func(o *manifest.Options) { o.Prefix = prefix })
}

func (s *Session) Source() manifest.Options {
	return s.source
}

func (s *Session) Prefix() string {
	return s.source.Prefix
}

func (s *Session) Manifest() []manifest.Entry {
	return slices.Clone(s.manifest)
}

func (s *Session) Outcomes() []transfer.Outcome {
	return slices.Clone(s.outcomes)
}

// Failures returns the outcomes of the last run that did not succeed.
func (s *Session) Failures() []transfer.Outcome {
	var failed []transfer.Outcome
	for _, o := range s.outcomes {
		if !o.Succeeded {
			failed = append(failed, o)
		}
	}
	return failed
}

func (s *Session) Elapsed() time.Duration {
	return s.elapsed
}

// AccessLevel is AccessPublic or AccessPrivate.
func (s *Session) AccessLevel() string {
	return s.accessLevel
}

// AccessError describes why the public grant of the last run failed, if it
// did.
func (s *Session) AccessError() string {
	return s.accessError
}

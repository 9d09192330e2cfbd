package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-s3-upload/internal/testutil"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/executor"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/manifest"
)

func newSession(t *testing.T, public bool) (*executor.Session, string) {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.txt", 1024)
	testutil.WriteFile(t, root, "b.txt", 2048)
	testutil.WriteFile(t, root, "c.log", 10)

	s, err := executor.NewSession("test-bucket", public, manifest.Options{
		Root:    root,
		Prefix:  "uploads",
		Pattern: regexp.MustCompile(`\.txt$`),
	})
	require.NoError(t, err)
	return s, root
}

func TestBuildResult(t *testing.T) {
	s, root := newSession(t, false)

	client := &testutil.MockClient{
		PutObjectFunc: func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			if aws.ToString(in.Key) == "uploads/a.txt" {
				return nil, errors.New("access denied")
			}
			return &s3.PutObjectOutput{}, nil
		},
	}
	e, err := executor.New(context.Background(), executor.WithClient(client), executor.WithMaxAttempts(1))
	require.NoError(t, err)

	_, err = e.RunParallel(context.Background(), s, 2)
	require.NoError(t, err)

	r := BuildResult(s)

	assert.Equal(t, s.ID, r.SessionID)
	assert.Equal(t, "test-bucket", r.Bucket)
	assert.Equal(t, "private", r.Visibility)
	assert.Equal(t, "private", r.AccessLevel)
	assert.Equal(t, "uploads", r.RootPrefix)
	assert.Equal(t, root, r.SourceDir)
	assert.Equal(t, `pattern=\.txt$ recursive=false`, r.Filter)
	assert.NotEmpty(t, r.Elapsed)

	require.Len(t, r.Files, 2)
	assert.Equal(t, 0, r.Files[0].Index)
	assert.Equal(t, "s3://test-bucket/uploads/a.txt", r.Files[0].Target)
	assert.False(t, r.Files[0].Succeeded)
	assert.Contains(t, r.Files[0].Error, "access denied")
	assert.Equal(t, 1, r.Files[1].Index)
	assert.True(t, r.Files[1].Succeeded)
	assert.Equal(t, filepath.Join(root, "b.txt"), r.Files[1].Source)

	assert.Equal(t, Summary{Files: 2, Succeeded: 1, Failed: 1, Bytes: 2048, Size: "2.0 KiB"}, r.Summary)
}

func TestBuildPlan(t *testing.T) {
	s, _ := newSession(t, true)

	p := BuildPlan(s)

	assert.Equal(t, "test-bucket", p.Bucket)
	require.Len(t, p.Files, 2)
	assert.Equal(t, "s3://test-bucket/uploads/a.txt", p.Files[0].Target)
	assert.Equal(t, uint64(1024), p.Files[0].Size)
	assert.Equal(t, Summary{Files: 2, Bytes: 3072, Size: "3.0 KiB"}, p.Summary)
}

func TestWrite(t *testing.T) {
	s, _ := newSession(t, false)
	path := filepath.Join(t.TempDir(), "result.json")

	require.NoError(t, Write(path, BuildResult(s)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "test-bucket", got["bucket"])
	assert.Equal(t, []any{}, got["files"])
	assert.NotContains(t, got, "access_error")
}

func TestWrite_BadPath(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "missing", "result.json"), Plan{})
	assert.Error(t, err)
}

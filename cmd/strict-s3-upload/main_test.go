package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-s3-upload/internal/testutil"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/report"
)

func TestDryRun(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.txt", 10)
	testutil.WriteFile(t, root, "big.bin", 6*1024*1024)
	testutil.WriteFile(t, root, "skip.log", 10)
	planPath := filepath.Join(t.TempDir(), "plan.json")

	var stdout bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{root, "s3://test-bucket/uploads", "--dryrun", "--exclude", "*.log", "--plan-json-file", planPath})

	require.NoError(t, cmd.Execute())

	assert.Equal(t,
		"(dryrun) upload: "+filepath.Join(root, "a.txt")+" to s3://test-bucket/uploads/a.txt\n"+
			"(dryrun) multipart upload: "+filepath.Join(root, "big.bin")+" to s3://test-bucket/uploads/big.bin\n",
		stdout.String())

	data, err := os.ReadFile(planPath)
	require.NoError(t, err)
	var plan report.Plan
	require.NoError(t, json.Unmarshal(data, &plan))
	assert.Equal(t, 2, plan.Summary.Files)
	assert.Equal(t, "exclude=*.log recursive=true", plan.Filter)
}

func TestRejectsInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing arguments", []string{t.TempDir()}},
		{"not an s3 uri", []string{t.TempDir(), "bucket/prefix", "--dryrun"}},
		{"missing directory", []string{filepath.Join(t.TempDir(), "missing"), "s3://b/p", "--dryrun"}},
		{"small part size", []string{t.TempDir(), "s3://b/p", "--dryrun", "--part-size", "1MiB"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(tt.args)
			assert.Error(t, cmd.Execute())
		})
	}
}

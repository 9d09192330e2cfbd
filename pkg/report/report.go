// Package report renders upload sessions as JSON documents.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yuya-takeyama/strict-s3-upload/pkg/executor"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3client"
)

// Result describes the last run of a session.
type Result struct {
	SessionID   string       `json:"session_id"`
	Bucket      string       `json:"bucket"`
	Visibility  string       `json:"visibility"`
	AccessLevel string       `json:"access_level"`
	AccessError string       `json:"access_error,omitempty"`
	RootPrefix  string       `json:"root_prefix"`
	SourceDir   string       `json:"source_dir"`
	Filter      string       `json:"filter"`
	Files       []ResultFile `json:"files"`
	Summary     Summary      `json:"summary"`
	Elapsed     string       `json:"elapsed"`
}

type ResultFile struct {
	Index     int    `json:"index"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Size      uint64 `json:"size"`
	Succeeded bool   `json:"succeeded"`
	Attempts  uint   `json:"attempts"`
	Multipart bool   `json:"multipart"`
	Error     string `json:"error,omitempty"`
}

type Summary struct {
	Files     int    `json:"files"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Bytes     uint64 `json:"bytes"`
	Size      string `json:"size"`
}

// Plan lists what a run would upload, for dry runs.
type Plan struct {
	SessionID string     `json:"session_id"`
	Bucket    string     `json:"bucket"`
	Filter    string     `json:"filter"`
	Files     []PlanFile `json:"files"`
	Summary   Summary    `json:"summary"`
}

type PlanFile struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Size   uint64 `json:"size"`
}

func visibility(public bool) string {
	if public {
		return executor.AccessPublic
	}
	return executor.AccessPrivate
}

// BuildResult collects the outcomes of the session's last run, sorted by
// manifest index.
func BuildResult(s *executor.Session) Result {
	src := s.Source()
	r := Result{
		SessionID:   s.ID,
		Bucket:      s.Bucket,
		Visibility:  visibility(s.Public),
		AccessLevel: s.AccessLevel(),
		AccessError: s.AccessError(),
		RootPrefix:  s.Prefix(),
		SourceDir:   absolutePath(src.Root),
		Filter:      src.Describe(),
		Files:       []ResultFile{},
		Elapsed:     s.Elapsed().Round(time.Millisecond).String(),
	}

	outcomes := s.Outcomes()
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Index < outcomes[j].Index
	})

	for _, o := range outcomes {
		r.Files = append(r.Files, ResultFile{
			Index:     o.Index,
			Source:    absolutePath(o.LocalPath),
			Target:    s3client.FormatS3Path(s.Bucket, o.RemoteKey),
			Size:      o.Size,
			Succeeded: o.Succeeded,
			Attempts:  o.Attempts,
			Multipart: o.Multipart,
			Error:     o.Error,
		})

		r.Summary.Files++
		if o.Succeeded {
			r.Summary.Succeeded++
			r.Summary.Bytes += o.Size
		} else {
			r.Summary.Failed++
		}
	}
	r.Summary.Size = humanize.IBytes(r.Summary.Bytes)

	return r
}

func BuildPlan(s *executor.Session) Plan {
	p := Plan{
		SessionID: s.ID,
		Bucket:    s.Bucket,
		Filter:    s.Source().Describe(),
		Files:     []PlanFile{},
	}
	for _, e := range s.Manifest() {
		p.Files = append(p.Files, PlanFile{
			Source: absolutePath(e.LocalPath),
			Target: s3client.FormatS3Path(s.Bucket, e.RemoteKey),
			Size:   e.Size,
		})
		p.Summary.Files++
		p.Summary.Bytes += e.Size
	}
	p.Summary.Size = humanize.IBytes(p.Summary.Bytes)
	return p
}

// Write stores v as indented JSON at path.
func Write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

func absolutePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

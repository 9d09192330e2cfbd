// Package manifest resolves a local directory into the ordered list of files
// to upload and the remote keys they upload to.
package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3client"
	"github.com/yuya-takeyama/strict-s3-upload/pkg/s3err"
)

// Entry is one file selected for upload.
type Entry struct {
	LocalPath string `json:"local_path"`
	Size      uint64 `json:"size"`
	RemoteKey string `json:"remote_key"`
}

// Predicate post-filters the sorted list of matched local paths. It may only
// drop paths; anything it returns that was not matched is ignored.
type Predicate func(paths []string) []string

// NameFunc maps a local path to the key suffix placed under the prefix.
type NameFunc func(localPath string) string

type Options struct {
	Root string
	// Pattern is matched against each file's base name. Nil matches all.
	Pattern *regexp.Regexp
	// Excludes are doublestar globs matched against the slash separated path
	// relative to Root. A pattern ending in "/" excludes a whole subtree.
	Excludes      []string
	Predicate     Predicate
	PredicateDesc string
	// NameFunc defaults to BaseName.
	NameFunc  NameFunc
	Recursive bool
	Prefix    string
}

func BaseName(localPath string) string {
	return filepath.Base(localPath)
}

// RelativeName keys files by their slash separated path below root, which
// mirrors the local tree under the prefix.
func RelativeName(root string) NameFunc {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = root
	}
	return func(localPath string) string {
		rel, err := filepath.Rel(absRoot, localPath)
		if err != nil {
			return filepath.Base(localPath)
		}
		return filepath.ToSlash(rel)
	}
}

// Build walks opts.Root and returns the manifest sorted by local path.
func Build(opts Options) ([]Entry, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", s3err.ErrInvalidDirectory, opts.Root, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", s3err.ErrInvalidDirectory, opts.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", s3err.ErrInvalidDirectory, opts.Root)
	}

	sizes, err := collect(root, opts)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(sizes))
	for p := range sizes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	if opts.Predicate != nil {
		paths = opts.Predicate(paths)
	}

	nameFn := opts.NameFunc
	if nameFn == nil {
		nameFn = BaseName
	}

	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		size, ok := sizes[p]
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			LocalPath: p,
			Size:      size,
			RemoteKey: s3client.JoinKey(opts.Prefix, filepath.ToSlash(nameFn(p))),
		})
	}

	return entries, nil
}

func collect(root string, opts Options) (map[string]uint64, error) {
	sizes := make(map[string]uint64)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		if opts.Pattern != nil && !opts.Pattern.MatchString(d.Name()) {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("get relative path: %w", err)
		}

		excluded, err := IsExcluded(filepath.ToSlash(relPath), opts.Excludes)
		if err != nil {
			return err
		}
		if excluded {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("get file info: %w", err)
		}

		sizes[path] = uint64(info.Size())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}

	return sizes, nil
}

// IsExcluded reports whether the relative path matches any exclude pattern.
func IsExcluded(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		if dirPattern, ok := strings.CutSuffix(pattern, "/"); ok {
			parts := strings.Split(path, "/")
			// parent directories only; the file itself is not a directory
			for i := 1; i < len(parts); i++ {
				matched, err := doublestar.Match(dirPattern, strings.Join(parts[:i], "/"))
				if err != nil {
					return false, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
				}
				if matched {
					return true, nil
				}
			}
			continue
		}

		matched, err := doublestar.Match(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// Describe summarizes the filter settings for reports and logs.
func (o Options) Describe() string {
	var parts []string
	if o.Pattern != nil {
		parts = append(parts, "pattern="+o.Pattern.String())
	}
	if len(o.Excludes) > 0 {
		parts = append(parts, "exclude="+strings.Join(o.Excludes, ","))
	}
	switch {
	case o.PredicateDesc != "":
		parts = append(parts, "predicate="+o.PredicateDesc)
	case o.Predicate != nil:
		parts = append(parts, "predicate=custom")
	}
	parts = append(parts, fmt.Sprintf("recursive=%t", o.Recursive))
	return strings.Join(parts, " ")
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

const SuccessMarker = "_SUCCESS"

var ErrNotFound = errors.New("no such object")

// Store is the minimal set of object storage operations the
// pipelines need; paths are either local or gs:// urls
type Store interface {
	Open(ctx context.Context, p string) (io.ReadCloser, error)
	Create(ctx context.Context, p string) (io.WriteCloser, error)
	Exists(ctx context.Context, p string) (bool, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Copy(ctx context.Context, src, dst string) error
	Move(ctx context.Context, src, dst string) error
	Remove(ctx context.Context, p string) error
}

func IsGCS(p string) bool {
	return strings.HasPrefix(p, "gs://")
}

// JoinPath joins path elements without collapsing the "gs://" scheme
func JoinPath(base string, elems ...string) string {
	if IsGCS(base) {
		return "gs://" + path.Join(append([]string{strings.TrimPrefix(base, "gs://")}, elems...)...)
	}
	return path.Join(append([]string{base}, elems...)...)
}

// Dir is path.Dir for local and gs:// paths
func Dir(p string) string {
	if IsGCS(p) {
		return "gs://" + path.Dir(strings.TrimPrefix(p, "gs://"))
	}
	return path.Dir(p)
}

// IsTableDir reports whether p names a directory-backed table
// (a matrix or hail-style table) that is complete only once
// its success marker has been written
func IsTableDir(p string) bool {
	trimmed := strings.TrimSuffix(p, "/")
	return strings.HasSuffix(trimmed, ".mt") || strings.HasSuffix(trimmed, ".ht")
}

// AssertOutputPrefix guards writes to locations outside the allowed buckets
func AssertOutputPrefix(output string, prefixes ...string) error {
	if len(prefixes) == 0 {
		return nil
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(output, prefix) {
			return nil
		}
	}
	return fmt.Errorf("output %q must start with one of %v", output, prefixes)
}

// globPrefix returns the longest leading part of a pattern free of wildcards,
// cut back to the last path separator
func globPrefix(pattern string) string {
	idx := strings.IndexAny(pattern, "*?[{")
	if idx < 0 {
		return pattern
	}
	prefix := pattern[:idx]
	if slash := strings.LastIndex(prefix, "/"); slash >= 0 {
		return prefix[:slash+1]
	}
	return ""
}

func hasGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

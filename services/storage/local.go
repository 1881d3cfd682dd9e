package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// LocalStore serves plain filesystem paths
type LocalStore struct{}

func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

func (l *LocalStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return f, err
}

func (l *LocalStore) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	return os.Create(p)
}

func (l *LocalStore) Exists(ctx context.Context, p string) (bool, error) {
	target := p
	if IsTableDir(p) {
		target = filepath.Join(p, SuccessMarker)
	}
	_, err := os.Stat(target)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List expands a glob pattern ("**" crosses directories);
// a pattern without wildcards lists the file or the directory contents
func (l *LocalStore) List(ctx context.Context, pattern string) ([]string, error) {
	if !hasGlob(pattern) {
		info, err := os.Stat(pattern)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return []string{pattern}, nil
		}
		return l.List(ctx, strings.TrimSuffix(pattern, "/")+"/**")
	}

	root := globPrefix(pattern)
	walkRoot := root
	if walkRoot == "" {
		walkRoot = "."
	}

	var matches []string
	err := filepath.WalkDir(walkRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		candidate := p
		if root == "" {
			candidate = strings.TrimPrefix(p, "./")
		}
		ok, matchErr := doublestar.Match(pattern, candidate)
		if matchErr != nil {
			return matchErr
		}
		if ok {
			matches = append(matches, candidate)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (l *LocalStore) Copy(ctx context.Context, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyLocalFile(src, dst)
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, p)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyLocalFile(p, target)
	})
}

func (l *LocalStore) Move(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// cross-device: fall back to copy + remove
	if err := l.Copy(ctx, src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func (l *LocalStore) Remove(ctx context.Context, p string) error {
	return os.RemoveAll(p)
}

func copyLocalFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

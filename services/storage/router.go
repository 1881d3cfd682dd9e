package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Router dispatches each path to the local or the GCS store. The GCS
// client is only created when a gs:// path is first touched
type Router struct {
	Local *LocalStore

	userProject string
	gcsOnce     sync.Once
	gcs         Store
	gcsErr      error
	newGCS      func(ctx context.Context) (Store, error)
}

func NewRouter(userProject string) *Router {
	r := &Router{Local: NewLocalStore(), userProject: userProject}
	r.newGCS = func(ctx context.Context) (Store, error) {
		return NewGCSStore(ctx, r.userProject)
	}
	return r
}

// NewRouterWithRemote routes gs:// paths to the given store
func NewRouterWithRemote(remote Store) *Router {
	return &Router{
		Local:  NewLocalStore(),
		newGCS: func(ctx context.Context) (Store, error) { return remote, nil },
	}
}

func (r *Router) pick(ctx context.Context, p string) (Store, error) {
	if !IsGCS(p) {
		return r.Local, nil
	}
	r.gcsOnce.Do(func() {
		r.gcs, r.gcsErr = r.newGCS(ctx)
	})
	return r.gcs, r.gcsErr
}

func (r *Router) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	s, err := r.pick(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, p)
}

func (r *Router) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	s, err := r.pick(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, p)
}

func (r *Router) Exists(ctx context.Context, p string) (bool, error) {
	s, err := r.pick(ctx, p)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, p)
}

func (r *Router) List(ctx context.Context, pattern string) ([]string, error) {
	s, err := r.pick(ctx, pattern)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, pattern)
}

func (r *Router) Remove(ctx context.Context, p string) error {
	s, err := r.pick(ctx, p)
	if err != nil {
		return err
	}
	return s.Remove(ctx, p)
}

func (r *Router) Copy(ctx context.Context, src, dst string) error {
	if IsGCS(src) == IsGCS(dst) {
		s, err := r.pick(ctx, src)
		if err != nil {
			return err
		}
		return s.Copy(ctx, src, dst)
	}
	return r.stream(ctx, src, dst)
}

func (r *Router) Move(ctx context.Context, src, dst string) error {
	if IsGCS(src) == IsGCS(dst) {
		s, err := r.pick(ctx, src)
		if err != nil {
			return err
		}
		return s.Move(ctx, src, dst)
	}
	if err := r.stream(ctx, src, dst); err != nil {
		return err
	}
	return r.Remove(ctx, src)
}

// stream copies between stores, object by object
func (r *Router) stream(ctx context.Context, src, dst string) error {
	names, err := r.List(ctx, src)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%s: %w", src, ErrNotFound)
	}

	for _, n := range names {
		target := dst
		if n != src {
			target = JoinPath(dst, strings.TrimPrefix(n, strings.TrimSuffix(src, "/")+"/"))
		}
		if err := r.copyObject(ctx, n, target); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) copyObject(ctx context.Context, src, dst string) error {
	in, err := r.Open(ctx, src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := r.Create(ctx, dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

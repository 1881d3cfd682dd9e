package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/bmatcuk/doublestar/v4"
	"google.golang.org/api/iterator"
)

// GCSStore serves gs://bucket/object paths. A non-empty UserProject
// is billed for requester-pays buckets
type GCSStore struct {
	client      *gcs.Client
	UserProject string
}

func NewGCSStore(ctx context.Context, userProject string) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSStore{client: client, UserProject: userProject}, nil
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}

func SplitGCSPath(p string) (string, string, error) {
	if !IsGCS(p) {
		return "", "", fmt.Errorf("not a gs:// path: %q", p)
	}
	trimmed := strings.TrimPrefix(p, "gs://")
	bucket, object, _ := strings.Cut(trimmed, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", p)
	}
	return bucket, object, nil
}

func (g *GCSStore) bucket(name string) *gcs.BucketHandle {
	b := g.client.Bucket(name)
	if g.UserProject != "" {
		b = b.UserProject(g.UserProject)
	}
	return b
}

func (g *GCSStore) object(p string) (*gcs.ObjectHandle, error) {
	bucket, object, err := SplitGCSPath(p)
	if err != nil {
		return nil, err
	}
	return g.bucket(bucket).Object(object), nil
}

func (g *GCSStore) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	obj, err := g.object(p)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return r, err
}

func (g *GCSStore) Create(ctx context.Context, p string) (io.WriteCloser, error) {
	obj, err := g.object(p)
	if err != nil {
		return nil, err
	}
	return obj.NewWriter(ctx), nil
}

// Exists checks for the object itself, then for any object under
// the path as a prefix, which is how directories appear in a bucket
func (g *GCSStore) Exists(ctx context.Context, p string) (bool, error) {
	target := p
	if IsTableDir(p) {
		target = JoinPath(p, SuccessMarker)
	}
	obj, err := g.object(target)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, gcs.ErrObjectNotExist) {
		return false, err
	}
	if IsTableDir(p) {
		return false, nil
	}

	under, err := g.listPrefix(ctx, strings.TrimSuffix(p, "/")+"/", 1)
	if err != nil {
		return false, err
	}
	return len(under) > 0, nil
}

func (g *GCSStore) listPrefix(ctx context.Context, prefix string, limit int) ([]string, error) {
	bucket, objectPrefix, err := SplitGCSPath(prefix)
	if err != nil {
		return nil, err
	}

	var names []string
	it := g.bucket(bucket).Objects(ctx, &gcs.Query{Prefix: objectPrefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, fmt.Sprintf("gs://%s/%s", bucket, attrs.Name))
		if limit > 0 && len(names) >= limit {
			break
		}
	}
	return names, nil
}

func (g *GCSStore) List(ctx context.Context, pattern string) ([]string, error) {
	if !hasGlob(pattern) {
		names, err := g.listPrefix(ctx, pattern, 0)
		if err != nil {
			return nil, err
		}
		// exact object or the contents of a "directory", not siblings sharing a prefix
		var matches []string
		dir := strings.TrimSuffix(pattern, "/") + "/"
		for _, n := range names {
			if n == pattern || strings.HasPrefix(n, dir) {
				matches = append(matches, n)
			}
		}
		return matches, nil
	}

	names, err := g.listPrefix(ctx, globPrefix(pattern), 0)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, n := range names {
		ok, err := doublestar.Match(pattern, n)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, n)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// Copy copies an object, or every object under src when src is a prefix
func (g *GCSStore) Copy(ctx context.Context, src, dst string) error {
	pairs, err := g.expand(ctx, src, dst)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		srcObj, err := g.object(pair[0])
		if err != nil {
			return err
		}
		dstObj, err := g.object(pair[1])
		if err != nil {
			return err
		}
		if _, err := dstObj.CopierFrom(srcObj).Run(ctx); err != nil {
			return fmt.Errorf("copying %s to %s: %w", pair[0], pair[1], err)
		}
	}
	return nil
}

func (g *GCSStore) Move(ctx context.Context, src, dst string) error {
	if err := g.Copy(ctx, src, dst); err != nil {
		return err
	}
	return g.Remove(ctx, src)
}

func (g *GCSStore) Remove(ctx context.Context, p string) error {
	names, err := g.List(ctx, p)
	if err != nil {
		return err
	}
	for _, n := range names {
		obj, err := g.object(n)
		if err != nil {
			return err
		}
		if err := obj.Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("deleting %s: %w", n, err)
		}
	}
	return nil
}

// expand resolves src into (source, destination) object pairs
func (g *GCSStore) expand(ctx context.Context, src, dst string) ([][2]string, error) {
	names, err := g.List(ctx, src)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: %w", src, ErrNotFound)
	}

	var pairs [][2]string
	for _, n := range names {
		if n == src {
			pairs = append(pairs, [2]string{n, dst})
			continue
		}
		rel := strings.TrimPrefix(n, strings.TrimSuffix(src, "/")+"/")
		pairs = append(pairs, [2]string{n, JoinPath(dst, rel)})
	}
	return pairs, nil
}

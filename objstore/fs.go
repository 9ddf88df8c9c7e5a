package objstore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teranos/nex/errors"
)

// tempPrefix marks in-flight writes. Watchers and List skip these names.
const tempPrefix = ".nex-tmp-"

// FSStore maps bucket/key to <root>/<bucket>/<key>.
// Puts are written to a temp file and renamed, so readers never see a partial object.
type FSStore struct {
	root string
}

// NewFSStore creates a store rooted at root, creating it if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create object store root %s", root)
	}
	return &FSStore{root: root}, nil
}

// Root returns the directory holding the buckets.
func (s *FSStore) Root() string { return s.root }

// BucketDir returns the directory for bucket.
func (s *FSStore) BucketDir(bucket string) string { return filepath.Join(s.root, bucket) }

func (s *FSStore) path(op, bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", newError(op, bucket, key, KindOther, errors.Newf("invalid bucket name %q", bucket))
	}
	clean := filepath.Clean("/" + key)
	if key == "" || clean == "/" {
		return "", newError(op, bucket, key, KindOther, errors.New("empty object key"))
	}
	return filepath.Join(s.root, bucket, clean), nil
}

func (s *FSStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError("get", bucket, key, KindTransient, err)
	}
	p, err := s.path("get", bucket, key)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(p)
	if err != nil {
		return nil, newError("get", bucket, key, classifyFS(err), err)
	}
	return body, nil
}

func (s *FSStore) Put(ctx context.Context, bucket, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return newError("put", bucket, key, KindTransient, err)
	}
	p, err := s.path("put", bucket, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return newError("put", bucket, key, classifyFS(err), err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return newError("put", bucket, key, classifyFS(err), err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		cleanup()
		return newError("put", bucket, key, classifyFS(err), err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return newError("put", bucket, key, classifyFS(err), err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		cleanup()
		return newError("put", bucket, key, classifyFS(err), err)
	}
	return nil
}

// List returns the keys in bucket, sorted. A missing bucket is empty.
func (s *FSStore) List(ctx context.Context, bucket string) ([]string, error) {
	dir := s.BucketDir(bucket)
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, newError("list", bucket, "", classifyFS(err), err)
	}
	sort.Strings(keys)
	return keys, nil
}

func classifyFS(err error) Kind {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindDenied
	case errors.IsAny(err, context.Canceled, context.DeadlineExceeded):
		return KindTransient
	}
	return KindOther
}

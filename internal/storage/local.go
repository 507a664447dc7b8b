package storage

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Local stores objects as files under a root directory. Keys map to
// relative paths, so "sessions/abc/turn-1-in.wav" becomes a nested file.
type Local struct {
	root    string
	baseURL string
}

var _ Store = (*Local)(nil)

// NewLocal returns a store rooted at dir, creating it if needed. baseURL is
// the public prefix signed URLs are built from, e.g.
// "http://localhost:8080/audio"; it may be empty, in which case SignedURL
// returns file URLs.
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("local storage: create root %q: %w", dir, err)
	}
	return &Local{root: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload implements Store.
func (l *Local) Upload(_ context.Context, key string, data []byte) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("local storage: upload %q: %w", key, err)
	}
	if err := os.WriteFile(p, data, 0o640); err != nil {
		return fmt.Errorf("local storage: upload %q: %w", key, err)
	}
	return nil
}

// Download implements Store.
func (l *Local) Download(_ context.Context, key string) ([]byte, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("local storage: download %q: %w", key, err)
	}
	return data, nil
}

// SignedURL implements Store. Local files are not access controlled, so the
// expiry is advisory: it is carried as a query parameter for the serving
// layer to enforce.
func (l *Local) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	p, err := l.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	} else if err != nil {
		return "", fmt.Errorf("local storage: sign %q: %w", key, err)
	}
	if l.baseURL == "" {
		return "file://" + p, nil
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("%s/%s?expires=%d", l.baseURL, url.PathEscape(key), expires), nil
}

// Delete implements Store.
func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("local storage: delete %q: %w", key, err)
	}
	return nil
}

// Stats implements Store.
func (l *Local) Stats(_ context.Context) (Stats, error) {
	var st Stats
	err := filepath.WalkDir(l.root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		st.Objects++
		st.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("local storage: stats: %w", err)
	}
	return st, nil
}

// path validates the key and resolves it under the root.
func (l *Local) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

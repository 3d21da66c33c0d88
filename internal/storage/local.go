package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Local struct {
	BaseDir string
}

func NewLocal(baseDir string) *Local {
	return &Local{BaseDir: baseDir}
}

func (l *Local) Put(ctx context.Context, r io.Reader, in PutInput) (PutResult, error) {
	_ = ctx

	dstPath, err := l.path(in.Key)
	if err != nil {
		return PutResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return PutResult{}, err
	}

	f, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return PutResult{}, err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return PutResult{}, err
	}

	return PutResult{Key: in.Key, URL: "file://" + dstPath}, nil
}

func (l *Local) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	_ = ctx
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// path keeps keys inside BaseDir.
func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimSpace(key))
	if clean == "/" {
		return "", errors.New("storage: empty key")
	}
	return filepath.Join(l.BaseDir, clean), nil
}

func (l *Local) String() string { return fmt.Sprintf("local(%s)", l.BaseDir) }

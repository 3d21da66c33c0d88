package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalPutGet(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)
	ctx := context.Background()

	res, err := l.Put(ctx, strings.NewReader(`{"intent":"pi_1"}`), PutInput{Key: "incidents/abc.json", ContentType: "application/json"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if res.Key != "incidents/abc.json" {
		t.Fatalf("Key = %q", res.Key)
	}

	rc, err := l.Get(ctx, res.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != `{"intent":"pi_1"}` {
		t.Fatalf("unexpected content %q", b)
	}

	if _, err := l.Get(ctx, "incidents/missing.json"); !os.IsNotExist(err) {
		t.Fatalf("Get(missing) error = %v, want not exist", err)
	}
}

func TestLocalKeysCannotEscapeBaseDir(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)

	res, err := l.Put(context.Background(), strings.NewReader("x"), PutInput{Key: "../../etc/evil"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "etc", "evil")); err != nil {
		t.Fatalf("expected file confined to base dir: %v (key %s)", err, res.Key)
	}
}

func TestNewRejectsIncompleteS3Config(t *testing.T) {
	if _, err := New(context.Background(), Config{Driver: "s3"}); err == nil {
		t.Fatal("expected error for missing bucket/region")
	}
	if _, err := New(context.Background(), Config{Driver: "ftp"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

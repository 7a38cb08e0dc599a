package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.tmp")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	content := "snapshot body"
	srcPath := writeTemp(t, content)

	objectPath := "snapshots/FoodCollection/0001.snap"
	etag, err := storage.Upload(ctx, srcPath, objectPath)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	sum := md5.Sum([]byte(content))
	if etag != hex.EncodeToString(sum[:]) {
		t.Errorf("expected md5 etag, got %q", etag)
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil || !exists {
		t.Fatalf("expected object to exist (err %v)", err)
	}

	dstPath := filepath.Join(t.TempDir(), "nested", "downloaded.snap")
	if err := storage.Download(ctx, objectPath, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	downloaded, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(downloaded) != content {
		t.Errorf("content mismatch: got %q, want %q", downloaded, content)
	}

	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	// deleting twice is fine
	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	exists, _ = storage.Exists(ctx, objectPath)
	if exists {
		t.Error("expected object to not exist after delete")
	}
}

func TestLocalStorage_DownloadNotFound(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	err = storage.Download(context.Background(), "snapshots/missing.snap", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_UploadMissingSource(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	_, err = storage.Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), "snapshots/a.snap")
	if !errors.Is(err, ErrUploadFailed) {
		t.Errorf("expected ErrUploadFailed, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	src := writeTemp(t, "x")
	for _, p := range []string{"snapshots/b.snap", "snapshots/a.snap", "other/c.snap"} {
		if _, err := storage.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload %s failed: %v", p, err)
		}
	}

	objs, err := storage.ListObjects(ctx, "snapshots")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	sort.Strings(objs)
	want := []string{filepath.Join("snapshots", "a.snap"), filepath.Join("snapshots", "b.snap")}
	if len(objs) != 2 || objs[0] != want[0] || objs[1] != want[1] {
		t.Errorf("expected %v, got %v", want, objs)
	}

	none, err := storage.ListObjects(ctx, "missing")
	if err != nil || len(none) != 0 {
		t.Errorf("expected empty listing for a missing prefix, got %v (%v)", none, err)
	}
}

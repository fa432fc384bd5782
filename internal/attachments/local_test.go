package attachments

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLocalStoreUploadAndOpen(t *testing.T) {
	store, err := NewLocalStore(LocalConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	ctx := context.Background()

	payload := []byte("blood pressure readings: 142/90, 138/88")
	att, err := store.Upload(ctx, "labs.pdf", "application/pdf", bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if att.Key == "" || att.Name != "labs.pdf" || att.Size != int64(len(payload)) {
		t.Fatalf("attachment = %+v", att)
	}
	if !strings.HasSuffix(att.Key, ".pdf") {
		t.Fatalf("key %q should keep the original extension", att.Key)
	}

	ok, err := store.Exists(ctx, att.Key)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	rc, err := store.Open(ctx, att.Key)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("content mismatch: %q", got)
	}

	url, err := store.URL(ctx, att.Key, 0)
	if err != nil {
		t.Fatalf("URL failed: %v", err)
	}
	if !strings.HasSuffix(url, att.Key) {
		t.Fatalf("URL %q does not reference key %q", url, att.Key)
	}
}

func TestLocalStoreMissingKey(t *testing.T) {
	store, err := NewLocalStore(LocalConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Open(ctx, "attachments/nope.bin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open(missing) error = %v, want ErrNotFound", err)
	}
	ok, err := store.Exists(ctx, "attachments/nope.bin")
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocalStore(LocalConfig{BasePath: base})
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	got := store.fullPath("../../etc/passwd")
	if !strings.HasPrefix(got, base) {
		t.Fatalf("fullPath escaped base: %q", got)
	}
}

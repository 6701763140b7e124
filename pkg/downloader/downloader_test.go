package downloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDownloadVerifiesMD5(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := New()
	path, err := c.Download(context.Background(), srv.URL+"/rom.zip", dir, "5eb63bbbe01eeed093cb22bb8f5acdc3")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if filepath.Base(path) != "rom.zip" {
		t.Fatalf("path = %q, want basename rom.zip", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Fatalf("content = %q", data)
	}
}

func TestDownloadMD5Mismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := New()
	_, err := c.Download(context.Background(), srv.URL+"/rom.zip", dir, "deadbeefdeadbeefdeadbeefdeadbeef")

	var mismatch *ErrMD5Mismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected *ErrMD5Mismatch, got %v", err)
	}
}

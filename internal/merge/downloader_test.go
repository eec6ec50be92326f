package merge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thanos-io/objstore"
	"golang.org/x/time/rate"
)

func TestDownloaderFetchesIntoScratchDir(t *testing.T) {
	bkt := objstore.NewInMemBucket()
	ctx := context.Background()
	if err := bkt.Upload(ctx, "splits/abc.split", strings.NewReader("split-bytes")); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	dir := t.TempDir()
	d := &Downloader{Storage: bkt, ScratchDir: filepath.Join(dir, "scratch")}
	path, err := d.Download(ctx, "abc", "splits/abc.split")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "split-bytes" {
		t.Fatalf("content = %q, want %q", got, "split-bytes")
	}
}

func TestDownloaderHonorsLimiter(t *testing.T) {
	bkt := objstore.NewInMemBucket()
	ctx := context.Background()
	payload := make([]byte, 256)
	if err := bkt.Upload(ctx, "splits/big.split", bytes.NewReader(payload)); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	d := &Downloader{
		Storage:    bkt,
		Limiter:    rate.NewLimiter(rate.Limit(1<<30), 1<<30),
		ScratchDir: t.TempDir(),
	}
	path, err := d.Download(ctx, "big", "splits/big.split")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("len = %d, want %d", len(got), len(payload))
	}
}

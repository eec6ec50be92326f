package merge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/thanos-io/objstore"
	"golang.org/x/time/rate"
)

// Downloader fetches source splits from object storage into a scratch
// directory ahead of the merge Executor, its throughput bounded by a
// shared token-bucket limiter so merge reads cannot starve indexing writes
// (spec.md §4.3 and §5).
type Downloader struct {
	Storage    objstore.Bucket
	Limiter    *rate.Limiter
	ScratchDir string
}

// Download fetches storageKey into ScratchDir/splitID.split, pacing reads
// through Limiter one read-buffer at a time, and returns the local path.
func (d *Downloader) Download(ctx context.Context, splitID, storageKey string) (string, error) {
	if err := os.MkdirAll(d.ScratchDir, 0o755); err != nil {
		return "", fmt.Errorf("merge: create scratch dir %s: %w", d.ScratchDir, err)
	}
	r, err := d.Storage.Get(ctx, storageKey)
	if err != nil {
		return "", fmt.Errorf("merge: fetch %s: %w", storageKey, err)
	}
	defer r.Close()

	path := filepath.Join(d.ScratchDir, splitID+".split")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("merge: create %s: %w", path, err)
	}
	defer f.Close()

	limited := &rateLimitedReader{ctx: ctx, r: r, limiter: d.Limiter}
	if _, err := io.Copy(f, limited); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("merge: download %s: %w", storageKey, err)
	}
	return path, nil
}

// rateLimitedReader paces Read calls through a token bucket sized in
// bytes, waiting for one token per byte returned by the wrapped reader.
type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (l *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if n > 0 && l.limiter != nil {
		if waitErr := l.limiter.WaitN(l.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

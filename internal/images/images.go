// Package images fetches a provider's cover art over HTTP and stores it on
// local disk so the API can serve it without depending on the remote host
// staying reachable. A badger index tracks which URLs have already been
// fetched so a restart doesn't need to stat every file on disk to dedupe.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Downloader implements importengine.ImageDownloader against a directory
// on disk, keyed by the source URL's hash so repeat imports dedupe for free.
type Downloader struct {
	dir    string
	client *http.Client
	index  *badger.DB
}

// New opens (or creates) the dedup index under dir/.dedup-index alongside
// the image files themselves. A failure to open the index is non-fatal:
// Download falls back to a plain file-existence check.
func New(dir string) *Downloader {
	d := &Downloader{dir: dir, client: &http.Client{Timeout: 15 * time.Second}}
	opts := badger.DefaultOptions(filepath.Join(dir, ".dedup-index")).WithLogger(nil)
	if db, err := badger.Open(opts); err == nil {
		d.index = db
	}
	return d
}

// Close releases the dedup index's file handles.
func (d *Downloader) Close() error {
	if d.index == nil {
		return nil
	}
	return d.index.Close()
}

func (d *Downloader) seen(url string) (string, bool) {
	if d.index == nil {
		return "", false
	}
	var dest string
	err := d.index.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(url))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			dest = string(val)
			return nil
		})
	})
	return dest, err == nil
}

func (d *Downloader) remember(url, dest string) {
	if d.index == nil {
		return
	}
	_ = d.index.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(url), []byte(dest))
	})
}

func (d *Downloader) Download(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("images: create dir: %w", err)
	}

	sum := sha256.Sum256([]byte(url))
	name := hex.EncodeToString(sum[:]) + filepath.Ext(url)
	dest := filepath.Join(d.dir, name)

	if cached, ok := d.seen(url); ok {
		if _, err := os.Stat(cached); err == nil {
			return cached, nil
		}
	}
	if _, err := os.Stat(dest); err == nil {
		d.remember(url, dest)
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("images: build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("images: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("images: fetch %s: status %d", url, resp.StatusCode)
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("images: create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("images: write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("images: close file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("images: finalize file: %w", err)
	}
	d.remember(url, dest)
	return dest, nil
}

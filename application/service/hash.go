package service

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// adapterFileHash hashes a weights file the same way the reranker's
// watcher fingerprints it, so a promote and the subsequent hot-reload
// agree on the adapter's identity.
func adapterFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// fileSHA256 returns the hex SHA-256 digest of the file at path
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for checksum: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyVerified copies src to a file at dstPath while hashing, and fails when
// the digest does not match want. The destination is removed on mismatch so a
// corrupt download can never be loaded by a later retry.
func copyVerified(src io.Reader, dstPath, want string) (int64, error) {
	dst, err := os.Create(dstPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dstPath, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, h), src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dstPath)
		return 0, fmt.Errorf("failed to download to %s: %w", dstPath, err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		os.Remove(dstPath)
		return 0, fmt.Errorf("checksum mismatch for %s: got %s, want %s", dstPath, got, want)
	}
	return n, nil
}

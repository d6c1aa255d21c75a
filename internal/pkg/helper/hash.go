package helper

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Digest is the checksum and size of a file on disk.
type Digest struct {
	SHA256 string
	Size   int64
}

// FileDigest streams path through sha256.
func FileDigest(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Digest{}, err
	}
	return Digest{SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

package segment

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// HashFile returns the hex blake3-256 digest of a segment file
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening segment for hashing: %w", err)
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader returns the hex blake3-256 digest of r
func HashReader(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("calculating blake3 hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

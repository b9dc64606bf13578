package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// hashChunkSize is the read size used when streaming attachment bodies
// through the hasher. Bodies are never materialized in memory.
const hashChunkSize = 8 * 1024

// locatorPrefix namespaces locator-based digests so a degraded digest can
// never collide with a content digest of different bytes.
const locatorPrefix = "url:"

// StreamDigest computes the SHA-256 of everything readable from r,
// consuming it in fixed-size chunks. Returns the hex digest and the number
// of bytes read.
func StreamDigest(r io.Reader) (string, int64, error) {
	h := sha256.New()
	buf := make([]byte, hashChunkSize)

	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", total, fmt.Errorf("read stream: %w", err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), total, nil
}

// LocatorDigest computes the fallback digest from an attachment's content
// URL. It is weaker than a content digest (identical bytes at different
// URLs will not match) and lives in its own namespace.
func LocatorDigest(contentURL string) string {
	sum := sha256.Sum256([]byte(contentURL))
	return locatorPrefix + hex.EncodeToString(sum[:])
}

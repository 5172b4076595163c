// Package integrity answers whether a file on disk is still exactly what the catalog expects.
// The digest is for change detection only, never for security decisions.
package integrity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// Hash returns the lower-case hex MD5 digest of the file at path.
func Hash(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Matches reports whether the digest of path equals expected, ignoring hex case.
func Matches(fs afero.Fs, path, expected string) (bool, error) {
	digest, err := Hash(fs, path)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(digest, expected), nil
}

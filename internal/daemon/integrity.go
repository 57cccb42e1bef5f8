package daemon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// VerifySelfIntegrity compares the SHA-256 digest of the running binary with
// expected. An empty expected digest disables the check.
func VerifySelfIntegrity(expected string) error {
	if expected == "" {
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	return verifyFileDigest(exe, expected)
}

func verifyFileDigest(path, expected string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open executable: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return fmt.Errorf("hash executable: %w", err)
	}
	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("self-integrity mismatch: expected %s got %s", strings.ToLower(expected), actual)
	}
	return nil
}

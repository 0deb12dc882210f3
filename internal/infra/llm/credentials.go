package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CredentialFileName is read when credentials_path points at a directory.
const CredentialFileName = "apitoken"

// ResolveCredential returns the secret stored at path.
// A regular file is read whole; a directory must contain CredentialFileName.
// Surrounding whitespace is trimmed. An empty path yields an empty credential.
// The error never carries the secret, only the path.
func ResolveCredential(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, path)
	}
	if info.IsDir() {
		path = filepath.Join(path, CredentialFileName)
		if info, err = os.Stat(path); err != nil || info.IsDir() {
			return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, path)
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrCredentialNotFound, path, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

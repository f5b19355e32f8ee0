package secrets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// AgeFileBackend resolves secrets from individual age-encrypted files
// under a directory, one file per secret name (<name>.age). Grounded
// on this pack's local-credential-at-rest vault, narrowed from a
// multi-secret dotenv vault to one-secret-per-file because this
// backend only needs point lookups by name, not a recipient-managed
// vault document.
type AgeFileBackend struct {
	dir      string
	identity age.Identity
}

// NewAgeFileBackend loads an X25519 identity from keyFile (as produced
// by `age-keygen`) and resolves secrets from storeDir.
func NewAgeFileBackend(storeDir, keyFile string) (*AgeFileBackend, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read age key file %s: %w", keyFile, err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse age identity %s: %w", keyFile, err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("age key file %s contains no identities", keyFile)
	}

	return &AgeFileBackend{dir: storeDir, identity: identities[0]}, nil
}

// Get implements Backend.
func (b *AgeFileBackend) Get(_ context.Context, name string) (string, bool, error) {
	path := filepath.Join(b.dir, name+".age")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read secret file %s: %w", path, err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), b.identity)
	if err != nil {
		return "", false, fmt.Errorf("decrypt secret %s: %w", name, err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", false, fmt.Errorf("read decrypted secret %s: %w", name, err)
	}

	return strings.TrimRight(string(plain), "\n"), true, nil
}

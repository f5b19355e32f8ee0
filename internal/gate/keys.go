package gate

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// loadSigner reads and parses an unencrypted private key file. Keys
// protected by a passphrase are out of scope here: this system expects
// the secrets backend (internal/secrets) to hold any such passphrase
// separately, not to be threaded through the SSH dial path.
func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	return signer, nil
}

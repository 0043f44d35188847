package ssh

import (
	"os"

	"golang.org/x/crypto/ssh"
)

// loadSigner reads and parses a private key file at path. Pool.acquire
// always takes an explicit keyPath; there is no server-identity key
// generated or managed here (see DESIGN.md).
func loadSigner(keyPath string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, wrapErr(KindKeyUnavailable, err, "read private key %s", keyPath)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, wrapErr(KindKeyUnavailable, err, "parse private key %s", keyPath)
	}

	return signer, nil
}

package securitymanager

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Length of a Z85-encoded CURVE key.
const z85KeyLength = 40

// Embedded in both managers: a key pair that can be read from and written to files.
type keyWriteLoader struct {
	public, private string
}

// Reads the key pair from two files. A file name of DONOTREAD leaves that key unchanged.
func (mgr *keyWriteLoader) LoadKeys(publicFile, privateFile string) error {
	if publicFile != DONOTREAD {
		key, err := readKeyFile(publicFile)

		if err != nil {
			return err
		}
		mgr.public = key
	}

	if privateFile != DONOTREAD {
		key, err := readKeyFile(privateFile)

		if err != nil {
			return err
		}
		mgr.private = key
	}
	return nil
}

// Writes the key pair to two files; the private key is only readable by the owner. A file name of
// DONOTWRITE skips that key, e.g. WriteKeys("server.pub", DONOTWRITE) to hand out a public key.
func (mgr *keyWriteLoader) WriteKeys(publicFile, privateFile string) error {
	if publicFile != DONOTWRITE {
		if err := writeKeyFile(publicFile, mgr.public, 0644); err != nil {
			return err
		}
	}

	if privateFile != DONOTWRITE {
		if err := writeKeyFile(privateFile, mgr.private, 0600); err != nil {
			return err
		}
	}
	return nil
}

func readKeyFile(filename string) (string, error) {
	content, err := os.ReadFile(filename)

	if err != nil {
		return "", fmt.Errorf("securitymanager: %w", err)
	}

	key := strings.TrimSpace(string(content))

	if len(key) != z85KeyLength {
		return "", fmt.Errorf("securitymanager: %s does not contain a Z85 key (%d bytes)", filename, len(key))
	}
	return key, nil
}

func writeKeyFile(filename, key string, perm os.FileMode) error {
	if len(key) != z85KeyLength {
		return fmt.Errorf("securitymanager: refusing to write key of length %d to %s", len(key), filename)
	}
	return os.WriteFile(filename, []byte(key+"\n"), perm)
}

// The key files of one process.
type KeyFiles struct {
	Public, Private string
	// Public key of the peer this process connects to.
	ServerPublic string
	// Public keys of the peers that may connect to this process; empty accepts anyone who knows
	// this process's public key.
	Authorized []string
	// Addresses or ranges that may connect; empty accepts all.
	AllowAddresses []string
}

// Whether any key file is set. Without keys, sockets are plain text.
func (k KeyFiles) Enabled() bool {
	return k.Public != "" || k.Private != "" || k.ServerPublic != "" || len(k.Authorized) > 0
}

// LoadServer returns the manager for the sockets a process binds, or nil if k is not Enabled.
func LoadServer(k KeyFiles) (*ServerSecurityManager, error) {
	if !k.Enabled() {
		return nil, nil
	}

	if k.Public == "" || k.Private == "" {
		return nil, errors.New("securitymanager: a key pair is needed to bind securely")
	}

	mgr := &ServerSecurityManager{keyWriteLoader: new(keyWriteLoader)}

	if err := mgr.LoadKeys(k.Public, k.Private); err != nil {
		return nil, err
	}

	for _, f := range k.Authorized {
		key, err := readKeyFile(f)

		if err != nil {
			return nil, err
		}
		mgr.AddClientKeys(key)
	}

	if len(k.AllowAddresses) > 0 {
		mgr.WhitelistClients(k.AllowAddresses...)
	}
	return mgr, nil
}

// LoadClient returns the manager for the sockets a process connects, or nil if k is not Enabled.
func LoadClient(k KeyFiles) (*ClientSecurityManager, error) {
	if !k.Enabled() {
		return nil, nil
	}

	if k.ServerPublic == "" {
		return nil, errors.New("securitymanager: the server's public key is needed to connect securely")
	}

	if k.Public == "" || k.Private == "" {
		return nil, errors.New("securitymanager: a key pair is needed to connect securely")
	}

	mgr := &ClientSecurityManager{keyWriteLoader: new(keyWriteLoader)}

	if err := mgr.LoadKeys(k.Public, k.Private); err != nil {
		return nil, err
	}

	if err := mgr.LoadServerPubkey(k.ServerPublic); err != nil {
		return nil, err
	}
	return mgr, nil
}

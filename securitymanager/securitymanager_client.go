package securitymanager

import (
	"errors"
	"fmt"

	"github.com/pebbe/zmq4"
)

// A ClientSecurityManager is applied to sockets before they connect to a CURVE server.
type ClientSecurityManager struct {
	*keyWriteLoader
	serverPublic string
}

// Create a manager with a new key pair. The server's public key must be set before the manager
// is applied. Returns nil if no key pair could be generated.
func NewClientSecurityManager() *ClientSecurityManager {
	public, private, err := zmq4.NewCurveKeypair()

	if err != nil {
		return nil
	}
	return &ClientSecurityManager{keyWriteLoader: &keyWriteLoader{public: public, private: private}}
}

// Socket types that connect in a pool: a worker's SUB and PUB, the dispatcher's REQ.
var clientSocketTypes = map[zmq4.Type]bool{zmq4.PUB: true, zmq4.SUB: true, zmq4.REQ: true, zmq4.DEALER: true}

// Configure sock as CURVE client. This must be called before Connect(). Does nothing on a nil
// manager.
func (mgr *ClientSecurityManager) ApplyToClientSocket(sock *zmq4.Socket) error {
	if mgr == nil {
		return nil
	}

	if mgr.serverPublic == "" || mgr.public == "" || mgr.private == "" {
		return errors.New("securitymanager: client needs its key pair and the server's public key")
	}

	t, err := sock.GetType()

	if err != nil {
		return err
	} else if !clientSocketTypes[t] {
		return fmt.Errorf("securitymanager: %s sockets do not connect in a pool", t)
	}

	return sock.ClientAuthCurve(mgr.serverPublic, mgr.public, mgr.private)
}

func (mgr *ClientSecurityManager) SetServerPubkey(key string) {
	mgr.serverPublic = key
}

// Read the server's public key from keyfile.
func (mgr *ClientSecurityManager) LoadServerPubkey(keyfile string) error {
	key, err := readKeyFile(keyfile)

	if err != nil {
		return err
	}
	mgr.serverPublic = key
	return nil
}

func (mgr *ClientSecurityManager) SetKeys(public, private string) {
	mgr.public, mgr.private = public, private
}

// The key to authorize on the server with AddClientKeys.
func (mgr *ClientSecurityManager) GetPublicKey() string {
	return mgr.public
}

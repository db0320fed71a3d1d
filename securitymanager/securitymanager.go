/*
Package securitymanager manages the CURVE keys of a pool's sockets. It follows the Iron House
example of ZeroMQ's CURVE documentation.

The side of a channel that binds is the CURVE server, the side that connects is the client. With
the broadcast pattern, the dispatcher binds both channels and every worker is a client that needs
the dispatcher's public key. With the point-to-point pattern, every worker binds its own channel
and the dispatcher is the client.
*/
package securitymanager

import (
	"errors"
	"fmt"

	"github.com/pebbe/zmq4"
)

const DONOTWRITE = "___donotwrite_key_to_file"
const DONOTREAD = "___donotread_key_from_file"

// ZAP domain of all pool sockets.
const AUTH_DOMAIN = "clusterdispatch"

// A ServerSecurityManager is applied to sockets before they are bound. It enables CURVE
// encryption, and optionally restricts which client keys and addresses may connect.
type ServerSecurityManager struct {
	*keyWriteLoader

	// Z85 keys; nil accepts any client that knows the server key.
	allowed_client_keys []string

	// At most one of both is set.
	allowed_client_addresses []string
	denied_client_addresses  []string
}

// Create a manager with a new key pair. Returns nil if no key pair could be generated (libzmq
// without CURVE support).
func NewServerSecurityManager() *ServerSecurityManager {
	public, private, err := zmq4.NewCurveKeypair()

	if err != nil {
		return nil
	}
	return &ServerSecurityManager{keyWriteLoader: &keyWriteLoader{public: public, private: private}}
}

// Socket types that are bound in a pool: the dispatcher's PUB and SUB, a worker's REP.
var serverSocketTypes = map[zmq4.Type]bool{zmq4.PUB: true, zmq4.SUB: true, zmq4.REP: true, zmq4.ROUTER: true}

/*
Configure sock as CURVE server. This must be called before Bind(). Does nothing on a nil manager,
so that callers can pass a nil manager for plain-text sockets.

The first call starts the ZAP authentication handler of the process.
*/
func (mgr *ServerSecurityManager) ApplyToServerSocket(sock *zmq4.Socket) error {
	if mgr == nil {
		return nil
	}

	if mgr.private == "" || mgr.public == "" {
		return errors.New("securitymanager: server key pair is incomplete")
	}

	t, err := sock.GetType()

	if err != nil {
		return err
	} else if !serverSocketTypes[t] {
		return fmt.Errorf("securitymanager: %s sockets are not bound in a pool", t)
	}

	// Returns an error if already running.
	zmq4.AuthStart()

	if mgr.allowed_client_addresses != nil {
		zmq4.AuthAllow(AUTH_DOMAIN, mgr.allowed_client_addresses...)
	} else if mgr.denied_client_addresses != nil {
		zmq4.AuthDeny(AUTH_DOMAIN, mgr.denied_client_addresses...)
	}

	if mgr.allowed_client_keys != nil {
		zmq4.AuthCurveAdd(AUTH_DOMAIN, mgr.allowed_client_keys...)
	} else {
		zmq4.AuthCurveAdd(AUTH_DOMAIN, zmq4.CURVE_ALLOW_ANY)
	}

	return sock.ServerAuthCurve(AUTH_DOMAIN, mgr.private)
}

// Stops the ZAP handler. Sockets configured afterwards start it again.
func (mgr *ServerSecurityManager) StopManager() {
	zmq4.AuthStop()
}

func (mgr *ServerSecurityManager) SetKeys(public, private string) {
	mgr.public, mgr.private = public, private
}

// The key that connecting peers need (their server_public_key).
func (mgr *ServerSecurityManager) GetPublicKey() string {
	return mgr.public
}

// Accept only clients with one of the given public keys (and those added before).
func (mgr *ServerSecurityManager) AddClientKeys(keys ...string) {
	mgr.allowed_client_keys = append(mgr.allowed_client_keys, keys...)
}

// Accept any client key again.
func (mgr *ServerSecurityManager) ResetClientKeys() {
	mgr.allowed_client_keys = nil
}

func (mgr *ServerSecurityManager) ResetBlackWhiteLists() {
	mgr.allowed_client_addresses = nil
	mgr.denied_client_addresses = nil
}

// Accept connections only from the given addresses or ranges. Clears the blacklist.
func (mgr *ServerSecurityManager) WhitelistClients(addrs ...string) {
	mgr.denied_client_addresses = nil
	mgr.allowed_client_addresses = append(mgr.allowed_client_addresses, addrs...)
}

// Refuse connections from the given addresses or ranges. Clears the whitelist.
func (mgr *ServerSecurityManager) BlacklistClients(addrs ...string) {
	mgr.allowed_client_addresses = nil
	mgr.denied_client_addresses = append(mgr.denied_client_addresses, addrs...)
}

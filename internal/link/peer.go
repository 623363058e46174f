package link

import (
	"context"
	"crypto/rsa"

	"github.com/ixsystems/zlinkd/internal/rpc"
)

// Peer is the narrow slice of rpc.Peer this package calls through: remote
// task invocation for mirroring link mutations and driving reserve/sync
// retries. Any rpc.Peer implementation (e.g. rpc.JSONClient) satisfies
// this without modification.
type Peer interface {
	CallTask(ctx context.Context, name string, args any) (rpc.TaskResult, error)
}

// KeyStore lazily provisions the RSA keypair used to authenticate peer
// RPC (persisted as replication.key.private / replication.key.public).
// The config store backing it is an external collaborator.
type KeyStore interface {
	// PrivateKey returns the host's RSA private key, generating and
	// persisting a fresh 2048-bit keypair on first use.
	PrivateKey(ctx context.Context) (*rsa.PrivateKey, error)
}

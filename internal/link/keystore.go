package link

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/ixsystems/zlinkd/internal/util/chainlock"
)

// ConfigStore is the narrow config-store contract KeyStore persists the
// RSA keypair through; the backing store is an external collaborator.
type ConfigStore interface {
	GetConfigValue(ctx context.Context, key string) ([]byte, bool, error)
	SetConfigValue(ctx context.Context, key string, value []byte) error
}

const (
	configKeyPrivate = "replication.key.private"
	configKeyPublic  = "replication.key.public"
)

// configKeyStore generates a 2048-bit RSA keypair on first use and
// caches it in memory thereafter.
type configKeyStore struct {
	store ConfigStore

	mu     chainlock.L
	cached *rsa.PrivateKey
}

// NewConfigKeyStore builds a KeyStore backed by store.
func NewConfigKeyStore(store ConfigStore) KeyStore {
	return &configKeyStore{store: store}
}

func (k *configKeyStore) PrivateKey(ctx context.Context) (*rsa.PrivateKey, error) {
	var (
		result *rsa.PrivateKey
		err    error
	)
	k.mu.HoldWhile(func() {
		if k.cached != nil {
			result = k.cached
			return
		}

		raw, ok, getErr := k.store.GetConfigValue(ctx, configKeyPrivate)
		if getErr != nil {
			err = fmt.Errorf("link: load private key: %w", getErr)
			return
		}
		if ok {
			key, parseErr := x509.ParsePKCS1PrivateKey(raw)
			if parseErr != nil {
				err = fmt.Errorf("link: parse stored private key: %w", parseErr)
				return
			}
			k.cached, result = key, key
			return
		}

		key, genErr := rsa.GenerateKey(rand.Reader, 2048)
		if genErr != nil {
			err = fmt.Errorf("link: generate private key: %w", genErr)
			return
		}
		priv := x509.MarshalPKCS1PrivateKey(key)
		pub, marshalErr := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if marshalErr != nil {
			err = fmt.Errorf("link: marshal public key: %w", marshalErr)
			return
		}
		if setErr := k.store.SetConfigValue(ctx, configKeyPrivate, priv); setErr != nil {
			err = fmt.Errorf("link: persist private key: %w", setErr)
			return
		}
		if setErr := k.store.SetConfigValue(ctx, configKeyPublic, pub); setErr != nil {
			err = fmt.Errorf("link: persist public key: %w", setErr)
			return
		}
		k.cached, result = key, key
	})
	return result, err
}

package p2p

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/puppycloud/puppycloud/internal/storage"
)

const (
	// NodeKeyName is the local_keys slot holding the node keypair.
	NodeKeyName = "node"
	// PeerIDConfigKey is the config key the derived peer id is written to.
	PeerIDConfigKey = "peer_id"
)

// KeyStore persists the node keypair and config values.
type KeyStore interface {
	GetLocalKey(name string) ([]byte, error)
	SetLocalKey(name string, key []byte, createdTS int64) error
	SetConfig(key, value string) error
}

// LoadOrCreateIdentity loads the node keypair from ks, or generates a new
// Ed25519 keypair and persists it. A stored key that fails to decode is an
// error: the node must not silently rotate its identity.
func LoadOrCreateIdentity(ks KeyStore, now time.Time) (crypto.PrivKey, peer.ID, error) {
	priv, err := loadKey(ks)
	if err != nil {
		return nil, "", err
	}
	if priv == nil {
		priv, err = createKey(ks, now)
		if err != nil {
			return nil, "", err
		}
	}

	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, "", fmt.Errorf("derive peer id: %w", err)
	}
	if err := ks.SetConfig(PeerIDConfigKey, id.String()); err != nil {
		return nil, "", err
	}
	return priv, id, nil
}

func loadKey(ks KeyStore) (crypto.PrivKey, error) {
	data, err := ks.GetLocalKey(NodeKeyName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	priv, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("decode local key: %w", err)
	}
	return priv, nil
}

func createKey(ks KeyStore, now time.Time) (crypto.PrivKey, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	enc, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("encode local key: %w", err)
	}
	if err := ks.SetLocalKey(NodeKeyName, enc, now.Unix()); err != nil {
		return nil, err
	}
	return priv, nil
}

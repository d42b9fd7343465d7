package security

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goliatone/go-connectors/core"
)

// KeyRing encrypts with the current key and decrypts with whichever
// registered key sealed the value, so stored tokens survive key rotation.
type KeyRing struct {
	current *AppKeySecretProvider
	keys    map[string]*AppKeySecretProvider
}

func NewKeyRing(current *AppKeySecretProvider, previous ...*AppKeySecretProvider) (*KeyRing, error) {
	if current == nil {
		return nil, fmt.Errorf("security: current key is required")
	}
	ring := &KeyRing{
		current: current,
		keys:    map[string]*AppKeySecretProvider{},
	}
	for _, provider := range append([]*AppKeySecretProvider{current}, previous...) {
		if provider == nil {
			continue
		}
		slot := ringSlot(provider.KeyID(), provider.Version())
		if _, exists := ring.keys[slot]; exists {
			return nil, fmt.Errorf("security: duplicate key %s", slot)
		}
		ring.keys[slot] = provider
	}
	return ring, nil
}

func (r *KeyRing) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if r == nil || r.current == nil {
		return nil, fmt.Errorf("security: key ring is not configured")
	}
	return r.current.Encrypt(ctx, plaintext)
}

func (r *KeyRing) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if r == nil || r.current == nil {
		return nil, fmt.Errorf("security: key ring is not configured")
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, err
	}
	if meta.KeyID == "" {
		return r.current.Decrypt(ctx, ciphertext)
	}
	provider, ok := r.keys[ringSlot(meta.KeyID, meta.Version)]
	if !ok {
		return nil, fmt.Errorf("security: no key registered for %s", ringSlot(meta.KeyID, meta.Version))
	}
	return provider.Decrypt(ctx, ciphertext)
}

// NeedsRotation reports whether ciphertext was sealed by a key other than
// the current one.
func (r *KeyRing) NeedsRotation(ciphertext []byte) bool {
	if r == nil || r.current == nil {
		return false
	}
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return false
	}
	return meta.KeyID != r.current.KeyID() || meta.Version != r.current.Version()
}

func ringSlot(keyID string, version int) string {
	return keyID + "@v" + strconv.Itoa(version)
}

var _ core.SecretProvider = (*KeyRing)(nil)

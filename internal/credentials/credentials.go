// Package credentials defines the port through which provider credentials
// reach the registry, and validates decrypted credential maps against
// per-gateway JSON schemas before an adapter is ever constructed from
// them. Encryption itself is an external concern: the registry only ever
// sees opaque blobs and asks a Store to open them.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store resolves and opens credential material. Implementations are safe
// for concurrent use.
type Store interface {
	// Decrypt turns an opaque encrypted blob into a key-value credential
	// map.
	Decrypt(ctx context.Context, blob []byte) (map[string]string, error)

	// ResolveShared fetches platform-level shared credential sets by id
	// in one batch. Blobs come back still encrypted. Unknown ids are
	// simply absent from the result.
	ResolveShared(ctx context.Context, ids []string) (map[string][]byte, error)
}

// Plaintext is a Store whose blobs are unencrypted JSON objects. It backs
// tests and local development; production deployments wire a KMS-backed
// implementation of the same interface.
type Plaintext struct {
	shared map[string][]byte
}

// NewPlaintext builds a Plaintext store over the given shared credential
// sets. The map may be nil.
func NewPlaintext(shared map[string][]byte) *Plaintext {
	if shared == nil {
		shared = map[string][]byte{}
	}
	return &Plaintext{shared: shared}
}

func (p *Plaintext) Decrypt(_ context.Context, blob []byte) (map[string]string, error) {
	var out map[string]string
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, fmt.Errorf("decoding credential blob: %w", err)
	}
	return out, nil
}

func (p *Plaintext) ResolveShared(_ context.Context, ids []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(ids))
	for _, id := range ids {
		if blob, ok := p.shared[id]; ok {
			out[id] = blob
		}
	}
	return out, nil
}

package fhe

import (
	"context"
)

// Handle is an opaque reference to a ciphertext held by the external FHE
// vault. It is not decryptable without granted access and an explicit
// decryption request; this service never sees key material.
type Handle string

// Vault is the external FHE capability. Encryption, access control and
// threshold decryption all happen on the other side of this interface.
type Vault interface {
	// Encrypt converts a small plaintext into a ciphertext handle.
	Encrypt(ctx context.Context, value uint8) (Handle, error)

	// GrantAccess allows a principal to decrypt the given handle later.
	// Idempotent and additive.
	GrantAccess(ctx context.Context, handle Handle, principal string) error

	// RequestDecryption issues one batched threshold-decryption request for
	// the ordered handle list. The vault invokes callbackURL asynchronously
	// with the cleartexts and a correctness proof.
	RequestDecryption(ctx context.Context, handles []Handle, callbackURL string) (requestID string, err error)

	// Verify checks a delivered cleartext bundle against its proof.
	Verify(ctx context.Context, requestID string, cleartexts []int64, proof []byte) (bool, error)
}

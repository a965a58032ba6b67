package certificate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureAlgorithm is the only signing scheme currently produced.
const SignatureAlgorithm = "HMAC-SHA256"

// Signature is a cryptographic signature over a certificate's content hash.
// It is a distinct layer on top of content-addressing: the hash gives every
// certificate a self-describing identity, the signature binds that identity
// to a key holder. The zero value means "unsigned".
type Signature struct {
	Algorithm string `json:"algorithm,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	Value     string `json:"value,omitempty"`
}

// Empty reports whether the signature is absent.
func (s Signature) Empty() bool { return s.Value == "" }

// Signer signs content hashes with an HMAC key. A nil signer is valid and
// produces empty signatures, for installations running unkeyed.
type Signer struct {
	keyID string
	key   []byte
}

// NewSigner returns a signer for the given key. An empty key yields a nil
// signer.
func NewSigner(keyID string, key []byte) *Signer {
	if len(key) == 0 {
		return nil
	}
	return &Signer{keyID: keyID, key: append([]byte(nil), key...)}
}

// Sign produces a signature over the content hash.
func (s *Signer) Sign(contentHash string) Signature {
	if s == nil {
		return Signature{}
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(contentHash))
	return Signature{
		Algorithm: SignatureAlgorithm,
		KeyID:     s.keyID,
		Value:     hex.EncodeToString(mac.Sum(nil)),
	}
}

// Verify reports whether sig is a valid signature over contentHash under
// this signer's key. A nil signer verifies only the empty signature.
func (s *Signer) Verify(contentHash string, sig Signature) bool {
	if s == nil {
		return sig.Empty()
	}
	if sig.Algorithm != SignatureAlgorithm {
		return false
	}
	want := s.Sign(contentHash)
	return hmac.Equal([]byte(want.Value), []byte(sig.Value))
}

// Package privacy implements the protection applied to identifying visit
// fields: deterministic field encryption under a tenant-derived key, one-way
// IP hashing, and keyless IP anonymization.
package privacy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/netip"

	"golang.org/x/crypto/sha3"
)

var (
	// ErrEmptyKeyMaterial is returned when key derivation yields no usable bytes.
	ErrEmptyKeyMaterial = errors.New("privacy: empty key material")
	// ErrCiphertextInvalid is returned when a ciphertext fails authentication.
	ErrCiphertextInvalid = errors.New("privacy: invalid ciphertext")
)

// Protector holds the immutable server secret. Key derivation is pure and
// safe to call concurrently for different tokens; each call builds its own
// cipher state.
type Protector struct {
	serverSecret string
}

// NewProtector returns a Protector bound to the server secret.
func NewProtector(serverSecret string) *Protector {
	return &Protector{serverSecret: serverSecret}
}

// DeriveKeyMaterial is stage one of the key-derivation contract: the SHA3-512
// digest of token||serverSecret, base64-encoded. This string is what the
// keypair endpoint hands back to tenants as their private key.
func DeriveKeyMaterial(token, serverSecret string) string {
	digest := sha3.Sum512([]byte(token + serverSecret))
	return base64.StdEncoding.EncodeToString(digest[:])
}

// Keyed derives the deterministic field cipher for a tenant token.
func (p *Protector) Keyed(token string) (*Cipher, error) {
	return NewDeterministicCipher(DeriveKeyMaterial(token, p.serverSecret))
}

// HashIP replaces an IP with a stable one-way hash. The salt is the server
// secret, never the tenant key: the mapping stays session-groupable but is
// not recoverable even if a tenant key leaks.
func (p *Protector) HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip + p.serverSecret))
	return hex.EncodeToString(sum[:])
}

// Cipher is a deterministic SIV-style cipher: the IV is synthesized from an
// HMAC over the plaintext, so equal plaintexts produce equal ciphertexts and
// GROUP BY over encrypted columns keeps its cardinalities. This trades
// semantic security for aggregate-query compatibility, which is the point.
type Cipher struct {
	block  cipher.Block
	macKey []byte
}

// NewDeterministicCipher builds a Cipher from derived key material.
//
// Stage two of the key-derivation contract: the base64 digest from
// DeriveKeyMaterial is consumed as if it were hex-encoded bytes. That reading
// is lenient (see decodeLooseHex) and clearly not what a fresh design would
// do, but it is the de facto KDF of every previously encrypted store, so it
// is preserved verbatim rather than fixed.
func NewDeterministicCipher(keyMaterial string) (*Cipher, error) {
	raw := decodeLooseHex(keyMaterial)
	if len(raw) == 0 {
		return nil, ErrEmptyKeyMaterial
	}

	encKey := sha3.Sum256(append([]byte("pixelry-enc:"), raw...))
	macKey := sha3.Sum256(append([]byte("pixelry-mac:"), raw...))

	block, err := aes.NewCipher(encKey[:])
	if err != nil {
		return nil, err
	}

	return &Cipher{block: block, macKey: macKey[:]}, nil
}

// Encrypt deterministically encrypts plaintext, returning base64(iv||body).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := c.syntheticIV(plaintext)
	body := make([]byte, len(plaintext))
	cipher.NewCTR(c.block, iv).XORKeyStream(body, []byte(plaintext))
	return base64.StdEncoding.EncodeToString(append(iv, body...)), nil
}

// Decrypt reverses Encrypt, authenticating by recomputing the synthetic IV.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertextInvalid
	}
	if len(data) < aes.BlockSize {
		return "", ErrCiphertextInvalid
	}

	iv, body := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCTR(c.block, iv).XORKeyStream(plain, body)

	if subtle.ConstantTimeCompare(iv, c.syntheticIV(string(plain))) != 1 {
		return "", ErrCiphertextInvalid
	}
	return string(plain), nil
}

func (c *Cipher) syntheticIV(plaintext string) []byte {
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write([]byte(plaintext))
	return mac.Sum(nil)[:aes.BlockSize]
}

// Anonymize coarsens an IP without any key material: IPv4 keeps a /24, IPv6
// keeps a /48. Irreversible, at the cost of cross-/24 joinability.
func Anonymize(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ""
	}

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return prefix.Addr().String()
}

// decodeLooseHex reads a string as hex byte pairs the way the previous
// implementation's parser did: a pair with an invalid first nibble yields 0,
// a pair with an invalid second nibble yields just the first nibble's value,
// and a trailing odd character is dropped. Base64 key material run through
// this produces stable (if peculiar) bytes; compatibility requires keeping
// the exact behavior.
func decodeLooseHex(s string) []byte {
	out := make([]byte, 0, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		hi, okHi := hexNibble(s[i])
		if !okHi {
			out = append(out, 0)
			continue
		}
		lo, okLo := hexNibble(s[i+1])
		if !okLo {
			out = append(out, hi)
			continue
		}
		out = append(out, hi<<4|lo)
	}
	return out
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

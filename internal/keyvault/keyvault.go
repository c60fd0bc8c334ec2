// Package keyvault encrypts executor private keys at rest: scrypt for key
// derivation, chacha20poly1305 for the AEAD cipher.
package keyvault

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = chacha20poly1305.KeySize
	saltLen      = 16
)

var errCiphertextTooShort = errors.New("keyvault: ciphertext shorter than salt+nonce")

// Encrypt derives a chacha20poly1305 key from passphrase via scrypt and
// seals plaintext, returning salt || nonce || ciphertext.
func Encrypt(passphrase []byte, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, saltLen+len(nonce)+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt reverses Encrypt, deriving the same scrypt key from the embedded
// salt and opening the AEAD-sealed payload.
func Decrypt(passphrase []byte, encrypted []byte) ([]byte, error) {
	if len(encrypted) < saltLen+chacha20poly1305.NonceSize {
		return nil, errCiphertextTooShort
	}
	salt := encrypted[:saltLen]
	nonce := encrypted[saltLen : saltLen+chacha20poly1305.NonceSize]
	ciphertext := encrypted[saltLen+chacha20poly1305.NonceSize:]

	key, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

// ExecutorKey is one decrypted signing identity loaded into TxSubmitter's
// round-robin pool.
type ExecutorKey struct {
	Address common.Address
	Private *ecdsa.PrivateKey
}

// LoadExecutorKey decrypts an at-rest key, parses it as a secp256k1 private
// key, and derives its address.
func LoadExecutorKey(passphrase, encrypted []byte) (ExecutorKey, error) {
	raw, err := Decrypt(passphrase, encrypted)
	if err != nil {
		return ExecutorKey{}, err
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return ExecutorKey{}, err
	}
	return ExecutorKey{Address: crypto.PubkeyToAddress(priv.PublicKey), Private: priv}, nil
}

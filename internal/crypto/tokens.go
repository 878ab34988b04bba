package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// TokenCodec encrypts OAuth tokens and gateway credentials before they hit
// the database. Format is "ivBase64:cipherBase64", AES-256-CBC, a fresh IV
// per call. The key is SHA-256 of the configured secret.
type TokenCodec struct {
	key []byte
}

func NewTokenCodec(secret string) *TokenCodec {
	sum := sha256.Sum256([]byte(secret))
	return &TokenCodec{key: sum[:]}
}

// Encrypt returns the stored form of raw. Empty input passes through.
// Cipher or entropy failures panic: emitting plaintext here would persist it
// indistinguishable from a legacy value.
func (c *TokenCodec) Encrypt(raw string) string {
	if raw == "" {
		return raw
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		panic("token codec: cipher init failed: " + err.Error())
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		panic("token codec: no entropy for IV: " + err.Error())
	}
	padded := pkcs7Pad([]byte(raw), aes.BlockSize)
	enc := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(enc, padded)
	return base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(enc)
}

// Decrypt reverses Encrypt. Stored values without the ":" separator are
// legacy plaintext from before encryption at rest existed and are returned
// unchanged, as is anything that fails to decrypt.
func (c *TokenCodec) Decrypt(stored string) string {
	if stored == "" {
		return stored
	}
	ivB64, encB64, ok := strings.Cut(stored, ":")
	if !ok {
		return stored
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil || len(iv) != aes.BlockSize {
		return stored
	}
	enc, err := base64.StdEncoding.DecodeString(encB64)
	if err != nil || len(enc) == 0 || len(enc)%aes.BlockSize != 0 {
		return stored
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return stored
	}
	plain := make([]byte, len(enc))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, enc)
	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return stored
	}
	return string(plain)
}

// Package crypto implements the two symmetric codecs the bridge depends on:
// the CRM iframe context codec and the at-rest token codec.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"wlink-bridge/internal/apperr"
)

// Context is the decrypted payload the CRM host passes from its embedding
// iframe. Only the fields the bridge uses are typed; anything else is dropped.
type Context struct {
	ActiveLocation string `json:"activeLocation"`
	LocationID     string `json:"locationId"`
	CompanyID      string `json:"companyId"`
	UserID         string `json:"userId"`
	Email          string `json:"email"`
	FullName       string `json:"fullName"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Role           string `json:"role"`
	Type           string `json:"type"`
}

// Location resolves the tenant id from the context fields, in the order the
// CRM populates them.
func (c Context) Location() string {
	switch {
	case c.ActiveLocation != "":
		return c.ActiveLocation
	case c.LocationID != "":
		return c.LocationID
	default:
		return c.CompanyID
	}
}

const opensslSaltHeader = "Salted__"

// DecryptContext decrypts an encrypted CRM context produced with the shared
// secret. The CRM emits the OpenSSL passphrase format: base64 over
// "Salted__" + 8-byte salt + AES-256-CBC ciphertext, key and IV derived from
// the passphrase with the MD5 EVP schedule. Any malformed input fails with a
// decryption error; a wrong secret never yields a value because the JSON
// parse (or the padding check) rejects the garbage plaintext.
func DecryptContext(encrypted, sharedSecret string) (Context, error) {
	var ctx Context

	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return ctx, apperr.Decryption("context is not valid base64")
	}
	if len(raw) < 16 || string(raw[:8]) != opensslSaltHeader {
		return ctx, apperr.Decryption("context is missing the salt header")
	}
	salt := raw[8:16]
	body := raw[16:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return ctx, apperr.Decryption("context ciphertext has invalid length")
	}

	key, iv := evpKDF([]byte(sharedSecret), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return ctx, apperr.Decryption("cipher init failed")
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	plain, err = pkcs7Unpad(plain)
	if err != nil || len(plain) == 0 {
		return ctx, apperr.Decryption("context decryption produced no data")
	}
	if err := json.Unmarshal(plain, &ctx); err != nil {
		return ctx, apperr.Decryption("decrypted context is not valid JSON")
	}
	return ctx, nil
}

// EncryptContext produces a ciphertext DecryptContext accepts. The CRM host
// does this client-side; the bridge only needs it for tests and local
// tooling.
func EncryptContext(ctx Context, sharedSecret string) (string, error) {
	plain, err := json.Marshal(ctx)
	if err != nil {
		return "", err
	}
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key, iv := evpKDF([]byte(sharedSecret), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	enc := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(enc, padded)

	out := append([]byte(opensslSaltHeader), salt...)
	out = append(out, enc...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// evpKDF derives a 32-byte key and 16-byte IV from the passphrase and salt
// using the OpenSSL EVP_BytesToKey MD5 schedule CryptoJS uses.
func evpKDF(pass, salt []byte) (key, iv []byte) {
	var derived []byte
	var block []byte
	for len(derived) < 48 {
		h := md5.New()
		h.Write(block)
		h.Write(pass)
		h.Write(salt)
		block = h.Sum(nil)
		derived = append(derived, block...)
	}
	return derived[:32], derived[32:48]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, apperr.Decryption("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, apperr.Decryption("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, apperr.Decryption("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}

// Package vault шифрует чувствительные данные участников (дату рождения)
// аутентифицированным шифром XChaCha20-Poly1305. В хранилище и очередь
// попадает только шифротекст в base64.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/magabrotheeeer/verification-gate/internal/models"
)

var (
	// ErrKeyMissing — ключ шифрования не задан. Процесс не должен стартовать без ключа.
	ErrKeyMissing = errors.New("vault: encryption key is missing")
	// ErrInvalidKey — ключ не декодируется или имеет неверную длину.
	ErrInvalidKey = errors.New("vault: invalid encryption key")
	// ErrDecrypt — шифротекст поврежден или зашифрован другим ключом.
	ErrDecrypt = errors.New("vault: decryption failed")
)

// Vault шифрует и расшифровывает значения одним симметричным ключом.
type Vault struct {
	aead cipher.AEAD
}

// New создает Vault из ключа в base64 (32 байта после декодирования).
func New(encodedKey string) (*Vault, error) {
	const op = "vault.New"
	if encodedKey == "" {
		return nil, ErrKeyMissing
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidKey, err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%s: %w: want %d bytes, got %d", op, ErrInvalidKey, chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Vault{aead: aead}, nil
}

// GenerateKey возвращает новый случайный ключ в base64.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("vault.GenerateKey: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Encrypt шифрует plaintext и возвращает base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	const op = "vault.Encrypt"
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt расшифровывает значение, полученное из Encrypt.
func (v *Vault) Decrypt(token string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrDecrypt
	}
	nonceSize := v.aead.NonceSize()
	if len(data) < nonceSize+v.aead.Overhead() {
		return nil, ErrDecrypt
	}
	plaintext, err := v.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncryptDOB шифрует дату рождения.
func (v *Vault) EncryptDOB(dob models.DateOfBirth) (string, error) {
	return v.Encrypt([]byte(dob.String()))
}

// DecryptDOB расшифровывает дату рождения.
func (v *Vault) DecryptDOB(token string) (models.DateOfBirth, error) {
	plaintext, err := v.Decrypt(token)
	if err != nil {
		return models.DateOfBirth{}, err
	}
	dob, err := models.ParseDateOfBirth(string(plaintext))
	if err != nil {
		return models.DateOfBirth{}, ErrDecrypt
	}
	return dob, nil
}

package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrIntegrity 密文被篡改或密钥不匹配
var ErrIntegrity = errors.New("vault: ciphertext integrity check failed")

const (
	keyLen     = 32
	iterations = 100000
)

// 固定盐，保证同一secret在多实例间推导出同一密钥
var kdfSalt = []byte("relay_credential_salt")

// Vault 凭证保险箱，AES-256-GCM认证加密
// 密钥由进程级secret经PBKDF2推导，启动时注入，自身不落盘
type Vault struct {
	aead cipher.AEAD
}

// New 创建Vault
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault: secret must not be empty")
	}

	key := pbkdf2.Key([]byte(secret), kdfSalt, iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	// 密钥材料仅保留在AEAD内部
	for i := range key {
		key[i] = 0
	}

	return &Vault{aead: aead}, nil
}

// Encrypt 加密并编码为base64url，nonce随机且前置
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt 解码并解密，任何认证失败都返回ErrIntegrity
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if len(raw) < v.aead.NonceSize() {
		return "", ErrIntegrity
	}

	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plaintext), nil
}

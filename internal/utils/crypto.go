// internal/utils/crypto.go
package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// EncryptedPrefix 标记配置文件中已加密的值
const EncryptedPrefix = "enc:"

// deriveKey 将任意长度的口令转换为 AES-256 密钥
func deriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

func newGCM(secret string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt 使用 AES-GCM 加密，返回 base64 文本（nonce 在前）
func Encrypt(plaintext, secret string) (string, error) {
	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt 解密 Encrypt 的输出
func Decrypt(ciphertext, secret string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM(secret)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// SealValue 加密并加上前缀；secret 为空时原样返回
func SealValue(value, secret string) (string, error) {
	if secret == "" || value == "" || strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}
	sealed, err := Encrypt(value, secret)
	if err != nil {
		return "", err
	}
	return EncryptedPrefix + sealed, nil
}

// OpenValue 解密带前缀的值，没有前缀的值原样返回
func OpenValue(value, secret string) (string, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}
	if secret == "" {
		return "", fmt.Errorf("value is encrypted but no secret is configured")
	}
	return Decrypt(strings.TrimPrefix(value, EncryptedPrefix), secret)
}

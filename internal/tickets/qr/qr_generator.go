package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"github.com/skip2/go-qrcode"
)

const imageSize = 256

type QRGenerator struct {
	secret []byte
}

// NewQRGenerator encrypts payloads when secret is non-empty. Gate scanners
// share the same secret.
func NewQRGenerator(secret string) *QRGenerator {
	if secret == "" {
		return &QRGenerator{}
	}
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &QRGenerator{secret: hashed[:]}
}

// Encode renders the ticket QR payload as a PNG image.
func (q *QRGenerator) Encode(payload string) ([]byte, error) {
	if payload == "" {
		return nil, errors.New("empty qr payload")
	}
	content := payload
	if q.secret != nil {
		encrypted, err := encryptAES([]byte(payload), q.secret)
		if err != nil {
			return nil, err
		}
		content = encrypted
	}
	return qrcode.Encode(content, qrcode.Medium, imageSize)
}

// Decrypt reverses the encryption applied by Encode. Used by scanners and tests.
func (q *QRGenerator) Decrypt(content string) (string, error) {
	if q.secret == nil {
		return content, nil
	}
	raw, err := base64.URLEncoding.DecodeString(content)
	if err != nil {
		return "", err
	}
	if len(raw) < aes.BlockSize {
		return "", errors.New("ciphertext too short")
	}
	block, err := aes.NewCipher(q.secret)
	if err != nil {
		return "", err
	}
	iv, data := raw[:aes.BlockSize], raw[aes.BlockSize:]
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(data, data)
	return string(data), nil
}

func encryptAES(data []byte, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(data))
	iv := ciphertext[:aes.BlockSize]

	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], data)

	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_ProducesPNG(t *testing.T) {
	g := NewQRGenerator("")

	img, err := g.Encode(`{"code":"TK-AAAA-BBBBBBBB","timestamp":1}`)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, imageSize, decoded.Bounds().Dx())
}

func TestEncode_RejectsEmptyPayload(t *testing.T) {
	_, err := NewQRGenerator("s").Encode("")
	assert.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	g := NewQRGenerator("gate-secret")

	enc, err := encryptAES([]byte("payload"), g.secret)
	require.NoError(t, err)
	assert.NotEqual(t, "payload", enc)

	plain, err := g.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "payload", plain)
}

func TestDecrypt_WithoutSecretIsIdentity(t *testing.T) {
	plain, err := NewQRGenerator("").Decrypt("raw")
	require.NoError(t, err)
	assert.Equal(t, "raw", plain)
}

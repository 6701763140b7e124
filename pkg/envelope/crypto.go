package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// defaultKey/defaultIV are the fixed AES-128-CBC parameters the vendor's
// desktop client and phone firmware have always shared (spec §4.E),
// recovered from the original C client as the ASCII strings
// "miuiotavalided11" and "0102030405060708".
var (
	defaultKey = []byte{0x6D, 0x69, 0x75, 0x69, 0x6F, 0x74, 0x61, 0x76, 0x61, 0x6C, 0x69, 0x64, 0x65, 0x64, 0x31, 0x31}
	defaultIV  = []byte{0x30, 0x31, 0x30, 0x32, 0x30, 0x33, 0x30, 0x34, 0x30, 0x35, 0x30, 0x36, 0x30, 0x37, 0x30, 0x38}
)

// keyIV returns the AES key/IV pair, allowing SENSITIVITY_AES_KEY and
// SENSITIVITY_AES_IV (each 32 hex characters) to override the vendor
// default — useful against alternate validation servers with a different
// shared secret.
func keyIV() ([]byte, []byte, error) {
	key := defaultKey
	iv := defaultIV
	if v := os.Getenv("SENSITIVITY_AES_KEY"); v != "" {
		b, err := parseHex16(v)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: SENSITIVITY_AES_KEY: %v", ErrBadEnvelopeKey, err)
		}
		key = b
	}
	if v := os.Getenv("SENSITIVITY_AES_IV"); v != "" {
		b, err := parseHex16(v)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: SENSITIVITY_AES_IV: %v", ErrBadEnvelopeKey, err)
		}
		iv = b
	}
	return key, iv, nil
}

func parseHex16(s string) ([]byte, error) {
	if len(s) != 32 {
		return nil, fmt.Errorf("expected 32 hex characters, got %d", len(s))
	}
	return hex.DecodeString(s)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("envelope: empty plaintext, nothing to unpad")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > aes.BlockSize {
		return nil, fmt.Errorf("envelope: invalid PKCS7 padding length %d", padLen)
	}
	return data[:len(data)-padLen], nil
}

// encryptToBase64 AES-128-CBC-encrypts plaintext under the configured
// key/IV and returns it base64-standard-encoded, matching the request
// body's "q" field.
func encryptToBase64(plaintext []byte) (string, error) {
	key, iv, err := keyIV()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("envelope: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decryptFromBase64 reverses encryptToBase64 for a server response body.
func decryptFromBase64(b64 string) ([]byte, error) {
	key, iv, err := keyIV()
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode: %v", ErrBadEnvelopeBody, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d not a multiple of block size", ErrBadEnvelopeBody, len(ciphertext))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	plainPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainPadded, ciphertext)
	return pkcs7Unpad(plainPadded)
}

// extractJSONObject returns the substring from the first '{' to the last
// '}' in text, tolerating server-added noise around the JSON body (spec
// §8 scenario 4).
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(text, '}')
	if end <= start {
		return "", false
	}
	return text[start : end+1], true
}

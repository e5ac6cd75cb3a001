package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
)

const (
	secretKeySize = 16
	wrappedKeyLen = 256
	hexAlphabet   = "0123456789abcdef"
)

// Keys holds the fixed public material of the web envelope.
type Keys struct {
	Nonce    string
	IV       string
	Exponent string
	Modulus  string
}

func DefaultKeys() Keys {
	return Keys{
		Nonce:    "0CoJUm6Qyw8W8jud",
		IV:       "0102030405060708",
		Exponent: "010001",
		Modulus: "00e0b509f6259df8642dbc35662901477df22677ec152b5ff68ace615bb7b725152b3ab17a876aea8a5aa76d2e417629" +
			"ec4ee341f56135fccf695280104e0312ecbda92557c93870114af6c9d05c4f7f0c3685b7a46bee255932575cce10b424d813" +
			"cfe4875d3e82047b97ddef52741d546b8e289dc6935b3ece0462db0a22b8e7",
	}
}

// Result is the form body of an encrypted request.
type Result struct {
	Params    string `url:"params" json:"params"`
	EncSecKey string `url:"encSecKey" json:"encSecKey"`

	// secretKey is kept for verification only and never leaves the process.
	secretKey string
}

func (r Result) SecretKey() string { return r.secretKey }

type Codec struct {
	keys     Keys
	iv       []byte
	exponent *big.Int
	modulus  *big.Int
	randKey  func() (string, error)
}

func New(keys Keys) (*Codec, error) {
	if len(keys.IV) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", model.ErrCodec, aes.BlockSize, len(keys.IV))
	}
	switch len(keys.Nonce) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: invalid nonce length %d", model.ErrCodec, len(keys.Nonce))
	}

	exponent, ok := new(big.Int).SetString(keys.Exponent, 16)
	if !ok {
		return nil, fmt.Errorf("%w: invalid exponent %q", model.ErrCodec, keys.Exponent)
	}
	modulus, ok := new(big.Int).SetString(keys.Modulus, 16)
	if !ok || modulus.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid modulus", model.ErrCodec)
	}

	return &Codec{
		keys:     keys,
		iv:       []byte(keys.IV),
		exponent: exponent,
		modulus:  modulus,
		randKey:  createSecretKey,
	}, nil
}

// MustDefault builds a codec from DefaultKeys and panics if they are broken.
func MustDefault() *Codec {
	c, err := New(DefaultKeys())
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Codec) WrapJSON(v any) (Result, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to marshal payload: %v", model.ErrCodec, err)
	}
	return c.Wrap(plaintext)
}

func (c *Codec) Wrap(plaintext []byte) (Result, error) {
	secretKey, err := c.randKey()
	if err != nil {
		return Result{}, fmt.Errorf("%w: failed to generate secret key: %v", model.ErrCodec, err)
	}
	return c.wrapWithKey(plaintext, secretKey)
}

func (c *Codec) wrapWithKey(plaintext []byte, secretKey string) (Result, error) {
	inner, err := c.encrypt(plaintext, []byte(c.keys.Nonce))
	if err != nil {
		return Result{}, err
	}
	params, err := c.encrypt([]byte(inner), []byte(secretKey))
	if err != nil {
		return Result{}, err
	}
	encSecKey, err := c.wrapKey(secretKey)
	if err != nil {
		return Result{}, err
	}
	return Result{Params: params, EncSecKey: encSecKey, secretKey: secretKey}, nil
}

// Unwrap reverses both AES layers given the per-request key.
func (c *Codec) Unwrap(params, secretKey string) ([]byte, error) {
	inner, err := c.decrypt(params, []byte(secretKey))
	if err != nil {
		return nil, err
	}
	return c.decrypt(string(inner), []byte(c.keys.Nonce))
}

func (c *Codec) encrypt(plaintext, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: failed to initialize AES cipher: %v", model.ErrCodec, err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(ciphertext, padded)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (c *Codec) decrypt(encoded string, key []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64: %v", model.ErrCodec, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize AES cipher: %v", model.ErrCodec, err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a block multiple", model.ErrCodec, len(ciphertext))
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(plain, ciphertext)
	return pkcs7Unpad(plain, block.BlockSize())
}

// wrapKey is textbook RSA over the reversed key text, no padding scheme.
func (c *Codec) wrapKey(secretKey string) (string, error) {
	reversed := []byte(secretKey)
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}

	m := new(big.Int).SetBytes(reversed)
	out := new(big.Int).Exp(m, c.exponent, c.modulus).Text(16)
	if len(out) > wrappedKeyLen {
		return "", fmt.Errorf("%w: wrapped key has %d hex digits", model.ErrCodec, len(out))
	}
	return strings.Repeat("0", wrappedKeyLen-len(out)) + out, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	pad := bytes.Repeat([]byte{byte(padding)}, padding)
	out := make([]byte, 0, len(data)+padding)
	out = append(out, data...)
	return append(out, pad...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padded length %d", model.ErrCodec, len(data))
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("%w: invalid padding byte %d", model.ErrCodec, padding)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: inconsistent padding", model.ErrCodec)
		}
	}
	return data[:len(data)-padding], nil
}

func createSecretKey() (string, error) {
	buf := make([]byte, secretKeySize)
	if _, err := crand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = hexAlphabet[buf[i]&0x0f]
	}
	return string(buf), nil
}

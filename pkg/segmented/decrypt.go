package segmented

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/pkg/errors"
)

// IVFromSequence returns the 128-bit big-endian representation of num.
func IVFromSequence(num int64) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[8:], uint64(num))
	return iv
}

// PadIV left pads short IVs with zeroes.
func PadIV(iv []byte) []byte {
	if len(iv) >= aes.BlockSize {
		return iv[len(iv)-aes.BlockSize:]
	}

	padded := make([]byte, aes.BlockSize)
	copy(padded[aes.BlockSize-len(iv):], iv)
	return padded
}

// DecryptAES128 decrypts AES-128-CBC data and removes the PKCS#7 padding.
func DecryptAES128(key, iv, data []byte) ([]byte, error) {
	if len(key) != aes.BlockSize {
		return nil, errors.Wrapf(ErrDecrypt, "invalid key length %d", len(key))
	}

	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.Wrapf(ErrDecrypt, "ciphertext length %d is not a multiple of the block size", len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(ErrDecrypt, err.Error())
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, PadIV(iv)).CryptBlocks(plain, data)

	return unpad(plain)
}

func unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, errors.Wrap(ErrDecrypt, "empty plaintext")
	}

	padding := int(data[n-1])
	if padding == 0 || padding > aes.BlockSize || padding > n {
		return nil, errors.Wrapf(ErrDecrypt, "invalid padding length %d", padding)
	}

	if !bytes.Equal(data[n-padding:], bytes.Repeat([]byte{byte(padding)}, padding)) {
		return nil, errors.Wrap(ErrDecrypt, "invalid padding")
	}

	return data[:n-padding], nil
}

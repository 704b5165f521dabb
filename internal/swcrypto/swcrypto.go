// Package swcrypto implements the AES-XTS/CTR/ECB primitives the NCA
// container and ticket formats are built on. Grounded on
// pkg/crypto, extended with a BKTR-flavoured CTR-EX nonce mixer and
// RSA-OAEP titlekey decryption for personalised tickets (§4.1, §4.6).
package swcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

// cipher cache, avoids rebuilding an aes.Block per section read.
var (
	cipherCache   = make(map[[16]byte]cipher.Block)
	cipherCacheMu sync.RWMutex
)

func cachedBlock(key []byte) (cipher.Block, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("swcrypto: key must be 16 bytes, got %d", len(key))
	}
	var k [16]byte
	copy(k[:], key)

	cipherCacheMu.RLock()
	b, ok := cipherCache[k]
	cipherCacheMu.RUnlock()
	if ok {
		return b, nil
	}

	cipherCacheMu.Lock()
	defer cipherCacheMu.Unlock()
	if b, ok = cipherCache[k]; ok {
		return b, nil
	}
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	cipherCache[k] = b
	return b, nil
}

// ECBDecrypt decrypts data with AES-128-ECB. Not secure in general, but
// this is how the platform wraps key-area entries and common titlekeys.
func ECBDecrypt(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("swcrypto: ECB data length not a multiple of block size")
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Decrypt(out[i:i+block.BlockSize()], data[i:i+block.BlockSize()])
	}
	return out, nil
}

// ECBEncrypt encrypts data with AES-128-ECB.
func ECBEncrypt(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("swcrypto: ECB data length not a multiple of block size")
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], data[i:i+block.BlockSize()])
	}
	return out, nil
}

// CTRStream returns an AES-CTR keystream for absoluteOffset, with iv
// holding the section's 16-byte base counter (upper 8 bytes fixed,
// lower 8 bytes overwritten here with the 16-byte-block index).
func CTRStream(key, iv []byte, absoluteOffset int64) (cipher.Stream, error) {
	block, err := cachedBlock(key)
	if err != nil {
		return nil, err
	}
	counter := make([]byte, 16)
	copy(counter, iv)
	binary.BigEndian.PutUint64(counter[8:], uint64(absoluteOffset>>4))
	return cipher.NewCTR(block, counter), nil
}

// CTRExCounter mixes a BKTR AesCtrEx generation value into a section's
// base counter (bytes 4-7), per §4.1 rule 4 / §4.4 rule 5. The low 8
// bytes are left for CTRStream to fill in with the block index.
func CTRExCounter(baseCounter []byte, generation uint32) []byte {
	counter := make([]byte, 16)
	copy(counter, baseCounter)
	binary.BigEndian.PutUint32(counter[4:8], generation)
	return counter
}

// XTSDecrypt decrypts a 16-byte-aligned buffer with AES-128-XTS, tweak
// derived from sector (the NCA header key uses sector size 0x200, one
// XTSDecrypt call per sector as required by §3.2's invariant).
func XTSDecrypt(data, key []byte, sector uint64) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("swcrypto: XTS key must be 32 bytes (2x16) for AES-128")
	}
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("swcrypto: XTS data must be 16-byte aligned")
	}
	c1, err := aes.NewCipher(key[:16])
	if err != nil {
		return nil, err
	}
	c2, err := aes.NewCipher(key[16:])
	if err != nil {
		return nil, err
	}

	tweak := make([]byte, 16)
	binary.BigEndian.PutUint64(tweak[8:], sector)
	tweakEnc := make([]byte, 16)
	c2.Encrypt(tweakEnc, tweak)
	tweak = tweakEnc

	out := make([]byte, len(data))
	buf := make([]byte, 16)
	dec := make([]byte, 16)
	for i := 0; i < len(data); i += 16 {
		chunk := data[i : i+16]
		xor16(buf, chunk, tweak)
		c1.Decrypt(dec, buf)
		xor16(out[i:i+16], dec, tweak)
		gfMul2(tweak)
	}
	return out, nil
}

// XTSEncrypt is XTSDecrypt's mirror, used when re-emitting a mutated NCA
// header (§4.1 "write-side emission of a mutated NCA").
func XTSEncrypt(data, key []byte, sector uint64) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("swcrypto: XTS key must be 32 bytes (2x16) for AES-128")
	}
	if len(data)%16 != 0 {
		return nil, fmt.Errorf("swcrypto: XTS data must be 16-byte aligned")
	}
	c1, err := aes.NewCipher(key[:16])
	if err != nil {
		return nil, err
	}
	c2, err := aes.NewCipher(key[16:])
	if err != nil {
		return nil, err
	}

	tweak := make([]byte, 16)
	binary.BigEndian.PutUint64(tweak[8:], sector)
	tweakEnc := make([]byte, 16)
	c2.Encrypt(tweakEnc, tweak)
	tweak = tweakEnc

	out := make([]byte, len(data))
	buf := make([]byte, 16)
	enc := make([]byte, 16)
	for i := 0; i < len(data); i += 16 {
		chunk := data[i : i+16]
		xor16(buf, chunk, tweak)
		c1.Encrypt(enc, buf)
		xor16(out[i:i+16], enc, tweak)
		gfMul2(tweak)
	}
	return out, nil
}

func xor16(dst, a, b []byte) {
	for i := 0; i < 16; i++ {
		dst[i] = a[i] ^ b[i]
	}
}

func gfMul2(tweak []byte) {
	var carry byte
	for i := 0; i < 16; i++ {
		b := tweak[i]
		next := b >> 7
		tweak[i] = (b << 1) | carry
		carry = next
	}
	if carry != 0 {
		tweak[0] ^= 0x87
	}
}

// RSAOAEPDecryptTitleKey decrypts a personalised ticket's RSA-OAEP
// encrypted titlekey block (§4.6 convert_personalized_to_common step 1).
func RSAOAEPDecryptTitleKey(priv *rsa.PrivateKey, enc []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, enc, nil)
}

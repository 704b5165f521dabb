package keyset

import (
	"bufio"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/nxarchive/nxarchive/internal/swcrypto"
)

const maxMasterKeys = 32

// FileOracle is a keys-file-backed Oracle, grounded on
// pkg/keys (flat "name = hex" loader) and pkg/keys/derivation.go (master
// key -> titlekek / key-area-key derivation), generalised behind the
// Oracle interface and extended with a rights-ID titlekey table and an
// optional console RSA private key for personalised-ticket decryption.
type FileOracle struct {
	mu sync.RWMutex

	raw map[string][]byte

	titlekeks   [maxMasterKeys][]byte
	keyAreaKeys [maxMasterKeys][3][]byte

	// rightsID -> decrypted titlekey, loaded from an optional
	// title.keys file (same "hex = hex" convention, keyed by rights ID
	// instead of a named constant).
	titlekeys map[[0x10]byte][]byte

	consoleKey *rsa.PrivateKey
}

// NewFileOracle loads prod.keys-style key material from path and
// derives the per-master-key keys eagerly (loadFile, then deriveKeys).
func NewFileOracle(path string) (*FileOracle, error) {
	o := &FileOracle{
		raw:       make(map[string][]byte),
		titlekeys: make(map[[0x10]byte][]byte),
	}
	if err := o.loadFile(path); err != nil {
		return nil, err
	}
	o.deriveKeys()
	return o, nil
}

// LoadTitleKeys merges a title.keys-style file (rightsID = titlekey,
// both 32 hex chars) into the oracle's rights-ID table.
func (o *FileOracle) LoadTitleKeys(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		ridHex := strings.TrimSpace(parts[0])
		keyHex := strings.TrimSpace(parts[1])

		ridBytes, err := hex.DecodeString(ridHex)
		if err != nil || len(ridBytes) != 0x10 {
			continue
		}
		keyBytes, err := hex.DecodeString(keyHex)
		if err != nil || len(keyBytes) != 0x10 {
			continue
		}

		var rid [0x10]byte
		copy(rid[:], ridBytes)

		o.mu.Lock()
		o.titlekeys[rid] = keyBytes
		o.mu.Unlock()
	}
	return scanner.Err()
}

// SetConsoleKey attaches the RSA private key used to decrypt
// personalised ticket titlekeys.
func (o *FileOracle) SetConsoleKey(key *rsa.PrivateKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.consoleKey = key
}

func (o *FileOracle) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		valHex := strings.TrimSpace(parts[1])
		val, err := hex.DecodeString(valHex)
		if err != nil {
			continue
		}
		o.raw[name] = val
	}
	return scanner.Err()
}

// deriveKeys computes title keks and key-area keys for every master key
// present in the file: titlekeks by one ECB decrypt of titlekek_source,
// key-area keys through generateKek. Nothing is derived when
// aes_kek_generation_source or aes_key_generation_source is absent.
func (o *FileOracle) deriveKeys() {
	aesKekGen := o.raw["aes_kek_generation_source"]
	aesKeyGen := o.raw["aes_key_generation_source"]
	titleKekSource := o.raw["titlekek_source"]

	keyAreaSources := [3][]byte{
		o.raw["key_area_key_application_source"],
		o.raw["key_area_key_ocean_source"],
		o.raw["key_area_key_system_source"],
	}

	if aesKekGen == nil || aesKeyGen == nil {
		return
	}

	for i := 0; i < maxMasterKeys; i++ {
		masterKey := o.raw[fmt.Sprintf("master_key_%02x", i)]
		if masterKey == nil {
			continue
		}

		if titleKekSource != nil {
			if tk, err := swcrypto.ECBDecrypt(titleKekSource, masterKey); err == nil {
				o.titlekeks[i] = tk
			}
		}

		for idx, src := range keyAreaSources {
			if src == nil {
				continue
			}
			if kak, err := generateKek(src, masterKey, aesKekGen, aesKeyGen); err == nil {
				o.keyAreaKeys[i][idx] = kak
			}
		}
	}
}

// generateKek reproduces the platform's 3-stage KEK generation:
// kek = Decrypt(kekSeed, masterKey); srcKek = Decrypt(src, kek);
// result = Decrypt(keySeed, srcKek) when a final key seed is supplied.
func generateKek(src, masterKey, kekSeed, keySeed []byte) ([]byte, error) {
	kek, err := swcrypto.ECBDecrypt(kekSeed, masterKey)
	if err != nil {
		return nil, err
	}
	srcKek, err := swcrypto.ECBDecrypt(src, kek)
	if err != nil {
		return nil, err
	}
	if keySeed != nil {
		return swcrypto.ECBDecrypt(keySeed, srcKek)
	}
	return srcKek, nil
}

func (o *FileOracle) HeaderKey() ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	k, ok := o.raw["header_key"]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(k))
	copy(out, k)
	return out, true
}

func (o *FileOracle) KeyAreaKey(generation int, index KeyAreaKeyIndex) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if generation < 0 || generation >= maxMasterKeys || index < 0 || index > KeyAreaSystem {
		return nil, false
	}
	k := o.keyAreaKeys[generation][index]
	if k == nil {
		return nil, false
	}
	out := make([]byte, len(k))
	copy(out, k)
	return out, true
}

func (o *FileOracle) TitlekeyForRightsID(rightsID [0x10]byte) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	k, ok := o.titlekeys[rightsID]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(k))
	copy(out, k)
	return out, true
}

func (o *FileOracle) CommonTitlekek(generation int) ([]byte, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if generation < 0 || generation >= maxMasterKeys {
		return nil, false
	}
	k := o.titlekeks[generation]
	if k == nil {
		return nil, false
	}
	out := make([]byte, len(k))
	copy(out, k)
	return out, true
}

func (o *FileOracle) RSAOAEPDecryptTitlekey(enc [0x100]byte) ([]byte, bool) {
	o.mu.RLock()
	key := o.consoleKey
	o.mu.RUnlock()
	if key == nil {
		return nil, false
	}
	dec, err := swcrypto.RSAOAEPDecryptTitleKey(key, enc[:])
	if err != nil {
		return nil, false
	}
	return dec, true
}

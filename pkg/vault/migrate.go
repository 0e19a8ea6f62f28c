package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/hackenstacks/ai-nexus/pkg/state"
)

// legacyBlobKey is where the old scheme stored the encrypted state:
// base64(IV || AES-256-CTR ciphertext) keyed by SHA-256 of the raw
// password, with no salt and no authentication.
const legacyBlobKey = "nexus.data"

// MigrateLegacy upgrades data written under the legacy scheme to the
// current one. It returns true if a migration was performed.
//
// The migration runs at most once per dataset: a present salt means the
// dataset already uses the current scheme and the legacy path is skipped.
// Nothing is written until the legacy blob has decrypted and parsed
// successfully, and the new record and the legacy delete commit in one
// transaction, so a failure partway through leaves the legacy data intact.
func (v *Vault) MigrateLegacy(password string) (bool, error) {
	migrated, err := v.Initialized()
	if err != nil {
		return false, err
	}
	if migrated {
		return false, nil
	}

	raw, err := v.store.Get(legacyBlobKey)
	if err != nil {
		if v.isNotFound(err) {
			return false, nil
		}
		return false, err
	}

	plaintext, err := decryptLegacy(password, raw)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLegacyDecrypt, err)
	}

	// CTR mode decrypts anything; a JSON parse into the expected shape is
	// the validation gate for a wrong password or corrupt blob.
	st := state.Empty()
	if err := json.Unmarshal(plaintext, st); err != nil {
		return false, fmt.Errorf("%w: decrypted data is not valid state", ErrLegacyDecrypt)
	}
	canonical, err := json.Marshal(st)
	if err != nil {
		return false, fmt.Errorf("failed to serialize migrated state: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return false, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := v.deriveKey(password, salt)

	verifier, err := seal(key, []byte(verifierPlaintext))
	if err != nil {
		return false, fmt.Errorf("failed to encrypt verifier: %w", err)
	}
	blob, err := seal(key, canonical)
	if err != nil {
		return false, fmt.Errorf("failed to re-encrypt state: %w", err)
	}

	err = v.store.Apply(map[string][]byte{
		keySalt:     encode(salt),
		keyVerifier: encode(verifier),
		keyBlob:     encode(blob),
	}, []string{legacyBlobKey})
	if err != nil {
		return false, fmt.Errorf("failed to commit migration: %w", err)
	}

	v.key = key
	v.logger.Info().Msg("Migrated legacy vault data to authenticated scheme")
	return true, nil
}

// HasLegacyData reports whether an unmigrated legacy blob is present.
func (v *Vault) HasLegacyData() (bool, error) {
	initialized, err := v.Initialized()
	if err != nil {
		return false, err
	}
	if initialized {
		return false, nil
	}
	return v.store.Has(legacyBlobKey)
}

func decryptLegacy(password string, raw []byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("corrupt legacy blob: %w", err)
	}
	if len(data) < aes.BlockSize {
		return nil, fmt.Errorf("legacy blob too short")
	}

	key := sha256.Sum256([]byte(password))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// encryptLegacy writes a blob in the legacy format. No production path
// encrypts under the legacy scheme; this exists so tests can construct
// datasets to migrate.
func encryptLegacy(password string, plaintext []byte) ([]byte, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	key := sha256.Sum256([]byte(password))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	out := append(iv, ciphertext...)
	return []byte(base64.StdEncoding.EncodeToString(out)), nil
}

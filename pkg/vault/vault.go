// Package vault provides password-derived-key envelope encryption for the
// entire application state. Only a random salt and a ciphertext verifier of
// a known constant are ever persisted; the derived key lives in memory for
// the duration of an unlocked session.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"

	"github.com/hackenstacks/ai-nexus/pkg/state"
	"github.com/hackenstacks/ai-nexus/pkg/storage"
)

// Storage keys for the persisted vault record.
const (
	keySalt     = "vault.salt"
	keyVerifier = "vault.verifier"
	keyBlob     = "vault.blob"
)

const (
	// verifierPlaintext is the known constant encrypted by SetPassword and
	// checked by VerifyPassword.
	verifierPlaintext = "ai-nexus-vault-check"

	saltSize = 16
	keySize  = 32

	// DefaultIterations is the PBKDF2-SHA256 work factor.
	DefaultIterations = 310000

	// MinIterations is the floor enforced on configured work factors.
	MinIterations = 100000
)

var (
	// ErrLocked is returned when an operation requires a derived session
	// key and none is held. This indicates a host integration bug.
	ErrLocked = errors.New("vault is locked")

	// ErrLegacyDecrypt is returned when legacy data cannot be decrypted or
	// validated during migration.
	ErrLegacyDecrypt = errors.New("legacy data could not be decrypted")

	// ErrAlreadyInitialized is returned when SetPassword is called on an
	// initialized vault without an unlocked session. Overwriting the salt
	// and verifier without the old password would orphan the blob.
	ErrAlreadyInitialized = errors.New("vault already initialized: unlock first")
)

// KV is the persistence surface the vault needs. Get reports a missing key
// with an error satisfying errors.Is(err, storage.ErrNotFound).
type KV interface {
	Get(key string) ([]byte, error)
	Has(key string) (bool, error)
	Put(key string, value []byte) error
	Apply(puts map[string][]byte, deletes []string) error
}

// Config configures a Vault.
type Config struct {
	Iterations int
	Logger     zerolog.Logger
}

// Vault encrypts and decrypts the application state blob.
type Vault struct {
	store      KV
	logger     zerolog.Logger
	iterations int
	key        []byte
}

// New creates a Vault over the given store.
func New(store KV, cfg Config) (*Vault, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	iterations := cfg.Iterations
	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < MinIterations {
		return nil, fmt.Errorf("pbkdf2 iterations %d below minimum %d", iterations, MinIterations)
	}
	return &Vault{
		store:      store,
		logger:     cfg.Logger.With().Str("component", "vault").Logger(),
		iterations: iterations,
	}, nil
}

// Initialized reports whether a salt (and therefore a password) has been set.
func (v *Vault) Initialized() (bool, error) {
	return v.store.Has(keySalt)
}

// Unlocked reports whether a session key is held in memory.
func (v *Vault) Unlocked() bool {
	return v.key != nil
}

// SetPassword generates a fresh salt, derives a new key, and persists the
// salt and verifier. On an initialized vault this is a password change and
// requires an unlocked session, proving knowledge of the old password; the
// existing blob is then re-encrypted under the new key so the change never
// orphans data. A locked initialized vault returns ErrAlreadyInitialized.
func (v *Vault) SetPassword(password string) error {
	if v.key == nil {
		initialized, err := v.Initialized()
		if err != nil {
			return err
		}
		if initialized {
			return ErrAlreadyInitialized
		}
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	newKey := v.deriveKey(password, salt)

	verifier, err := seal(newKey, []byte(verifierPlaintext))
	if err != nil {
		return fmt.Errorf("failed to encrypt verifier: %w", err)
	}

	puts := map[string][]byte{
		keySalt:     encode(salt),
		keyVerifier: encode(verifier),
	}

	// Carry the existing blob across a password change.
	if v.key != nil {
		if blob, err := v.loadBlobAndDecrypt(); err == nil && blob != nil {
			reEncrypted, err := seal(newKey, blob)
			if err != nil {
				return fmt.Errorf("failed to re-encrypt state: %w", err)
			}
			puts[keyBlob] = encode(reEncrypted)
		}
	}

	if err := v.store.Apply(puts, nil); err != nil {
		return fmt.Errorf("failed to persist vault record: %w", err)
	}

	v.key = newKey
	v.logger.Info().Int("iterations", v.iterations).Msg("Vault password set")
	return nil
}

// VerifyPassword re-derives a key from the stored salt and checks it against
// the stored verifier. A wrong password or tampered verifier yields false,
// never an error. On success the derived key is retained for the session.
func (v *Vault) VerifyPassword(password string) (bool, error) {
	salt, err := v.getDecoded(keySalt)
	if err != nil {
		if v.isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	verifier, err := v.getDecoded(keyVerifier)
	if err != nil {
		if v.isNotFound(err) {
			return false, nil
		}
		return false, err
	}

	key := v.deriveKey(password, salt)
	plaintext, err := open(key, verifier)
	if err != nil {
		return false, nil
	}
	if subtle.ConstantTimeCompare(plaintext, []byte(verifierPlaintext)) != 1 {
		return false, nil
	}

	v.key = key
	v.logger.Debug().Msg("Vault unlocked")
	return true, nil
}

// Save serializes and encrypts the state under the session key with a fresh
// nonce, then persists it. Calling Save on a locked vault is a programming
// error and returns ErrLocked.
func (v *Vault) Save(st *state.State) error {
	if v.key == nil {
		return ErrLocked
	}

	plaintext, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	ciphertext, err := seal(v.key, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	if err := v.store.Put(keyBlob, encode(ciphertext)); err != nil {
		return fmt.Errorf("failed to persist state blob: %w", err)
	}
	return nil
}

// Load decrypts and deserializes the persisted blob. Any decryption or
// parse failure degrades to an empty default state so a corrupted vault
// cannot take down startup; only a locked vault is an error.
func (v *Vault) Load() (*state.State, error) {
	if v.key == nil {
		return nil, ErrLocked
	}

	plaintext, err := v.loadBlobAndDecrypt()
	if err != nil {
		v.logger.Warn().Err(err).Msg("Failed to decrypt state blob, using empty state")
		return state.Empty(), nil
	}
	if plaintext == nil {
		return state.Empty(), nil
	}

	st := state.Empty()
	if err := json.Unmarshal(plaintext, st); err != nil {
		v.logger.Warn().Err(err).Msg("Failed to parse state blob, using empty state")
		return state.Empty(), nil
	}
	return st, nil
}

// Lock drops the in-memory session key.
func (v *Vault) Lock() {
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
}

// Clear removes the salt, verifier, and blob together and locks the vault.
// The data is irrecoverable afterwards.
func (v *Vault) Clear() error {
	if err := v.store.Apply(nil, []string{keySalt, keyVerifier, keyBlob}); err != nil {
		return fmt.Errorf("failed to clear vault record: %w", err)
	}
	v.Lock()
	v.logger.Info().Msg("Vault cleared")
	return nil
}

// loadBlobAndDecrypt returns the decrypted blob, or (nil, nil) if no blob
// has been persisted yet.
func (v *Vault) loadBlobAndDecrypt() ([]byte, error) {
	blob, err := v.getDecoded(keyBlob)
	if err != nil {
		if v.isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return open(v.key, blob)
}

func (v *Vault) deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, v.iterations, keySize, sha256.New)
}

func (v *Vault) getDecoded(key string) ([]byte, error) {
	raw, err := v.store.Get(key)
	if err != nil {
		return nil, err
	}
	decoded, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("corrupt %s: %w", key, err)
	}
	return decoded, nil
}

func (v *Vault) isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func encode(raw []byte) []byte {
	return []byte(base64.StdEncoding.EncodeToString(raw))
}

// seal encrypts plaintext with AES-256-GCM under key, prepending a fresh
// random nonce. The nonce is never reused: one is drawn per call.
func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts data produced by seal, authenticating it in the process.
func open(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

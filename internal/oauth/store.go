package oauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
)

// ErrNotFound is returned by a secretStore when no token exists for an
// account email.
var ErrNotFound = errors.New("oauth: no token stored for account")

// secretStore persists the full token set. Two implementations satisfy
// it, per spec §9's "abstract secret store" note: an OS credential store
// and an encrypted local file, so a headless box without a keyring
// daemon still has somewhere durable to put refresh tokens.
type secretStore interface {
	LoadAll() (map[string]Token, error)
	SaveAll(tokens map[string]Token) error
}

// keyringStore persists the entire token set as one JSON blob under a
// single service/user pair in the OS credential store. go-keyring has no
// "list all keys" operation, so rather than invent a side-channel index
// key (itself another moving part to keep consistent) the whole map is
// serialized as one secret — it is small, changes infrequently, and is
// already guarded by Manager's single mutex.
type keyringStore struct {
	service string
	user    string
}

func newKeyringStore(service string) *keyringStore {
	return &keyringStore{service: service, user: "tokens"}
}

func (k *keyringStore) LoadAll() (map[string]Token, error) {
	raw, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return map[string]Token{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oauth: keyring get: %w", err)
	}
	var tokens map[string]Token
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return nil, fmt.Errorf("oauth: keyring payload decode: %w", err)
	}
	return tokens, nil
}

func (k *keyringStore) SaveAll(tokens map[string]Token) error {
	raw, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("oauth: encode tokens: %w", err)
	}
	if err := keyring.Set(k.service, k.user, string(raw)); err != nil {
		return fmt.Errorf("oauth: keyring set: %w", err)
	}
	return nil
}

// fileStore is the fallback backend: an AES-256-GCM-encrypted JSON file.
// The encryption key is derived with argon2id from a machine-local
// secret (an env var if set, otherwise a per-file random passphrase
// generated on first write and stored alongside the ciphertext — this
// keeps the file self-contained rather than depending on an external
// secret being supplied, while still never storing tokens in plaintext
// on disk).
type fileStore struct {
	path string
}

func newFileStore(path string) *fileStore {
	return &fileStore{path: path}
}

type encryptedFile struct {
	Salt       []byte `json:"salt"`
	Passphrase []byte `json:"passphrase"` // only present when no env secret was supplied
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

const (
	argonTime     = 1
	argonMemory   = 64 * 1024
	argonThreads  = 4
	argonKeyLen   = 32
	saltLen       = 16
	passphraseLen = 32
)

func deriveKey(salt []byte) ([]byte, []byte, error) {
	secret := os.Getenv("RELAYMUX_OAUTH_SECRET")
	var passphrase []byte
	if secret == "" {
		passphrase = make([]byte, passphraseLen)
		if _, err := rand.Read(passphrase); err != nil {
			return nil, nil, fmt.Errorf("oauth: generate passphrase: %w", err)
		}
		secret = string(passphrase)
	}
	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return key, passphrase, nil
}

func (f *fileStore) LoadAll() (map[string]Token, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Token{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("oauth: read token file: %w", err)
	}

	var enc encryptedFile
	if err := json.Unmarshal(raw, &enc); err != nil {
		return nil, fmt.Errorf("oauth: token file decode: %w", err)
	}

	secret := os.Getenv("RELAYMUX_OAUTH_SECRET")
	if secret == "" {
		if len(enc.Passphrase) == 0 {
			return nil, errors.New("oauth: token file has no stored passphrase and RELAYMUX_OAUTH_SECRET is unset")
		}
		secret = string(enc.Passphrase)
	}
	key := argon2.IDKey([]byte(secret), enc.Salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("oauth: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("oauth: gcm init: %w", err)
	}
	plaintext, err := gcm.Open(nil, enc.Nonce, enc.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("oauth: decrypt token file: %w", err)
	}

	var tokens map[string]Token
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		return nil, fmt.Errorf("oauth: decode decrypted tokens: %w", err)
	}
	return tokens, nil
}

func (f *fileStore) SaveAll(tokens map[string]Token) error {
	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("oauth: encode tokens: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("oauth: generate salt: %w", err)
	}
	key, passphrase, err := deriveKey(salt)
	if err != nil {
		return err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("oauth: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("oauth: gcm init: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("oauth: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	enc := encryptedFile{Salt: salt, Passphrase: passphrase, Nonce: nonce, Ciphertext: ciphertext}
	raw, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("oauth: encode token file: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("oauth: create token dir: %w", err)
		}
	}
	return os.WriteFile(f.path, raw, 0o600)
}

// newSecretStore picks the OS keyring when available, falling back to an
// encrypted file. Availability is probed with a harmless round-trip
// write/delete, since go-keyring only fails at call time (there is no
// separate "is a keyring daemon running" check).
func newSecretStore(service, fallbackPath string) secretStore {
	probeUser := "relaymux-probe"
	if err := keyring.Set(service, probeUser, "probe"); err == nil {
		_ = keyring.Delete(service, probeUser)
		return newKeyringStore(service)
	}
	return newFileStore(fallbackPath)
}

package keystore

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/syncagent/internal/common"
	"github.com/dmitrijs2005/syncagent/internal/cryptox"
)

// fileRecord is the on-disk shape of a FileKeystore: a password-derived
// verifier (so Unlock can reject a wrong password without attempting to
// decrypt anything) plus the session key wrapped under a key-encryption
// key derived from the master password, grounded on the offline-login
// verifier pattern in the teacher's client/services.authService
// (salt+verifier persisted locally, checked with subtle.ConstantTimeCompare)
// generalized from "verify and return the KEK itself" to "verify and
// unwrap a separately generated data key", so the master password can be
// rotated (re-Import) without re-encrypting every chunk already on disk.
type fileRecord struct {
	Salt       []byte `json:"salt"`
	Verifier   []byte `json:"verifier"`
	WrappedKey []byte `json:"wrapped_key"`
	Nonce      []byte `json:"nonce"`
}

// FileKeystore is the default Keystore implementation: a single JSON
// file under the agent's state directory. It is adequate for local
// development and the integration tests; production deployments behind
// a real OS keyring are expected to provide their own Keystore.
//
// FileKeystore never retains its own copy of the session key beyond
// the slice it hands back from Unlock — the engine owns that slice and
// is responsible for wiping it — so Lock is a no-op here.
type FileKeystore struct {
	path string
}

// NewFileKeystore builds a FileKeystore backed by path.
func NewFileKeystore(path string) *FileKeystore {
	return &FileKeystore{path: path}
}

// Init creates a brand new keystore at path, generating a fresh random
// 32-byte session key and wrapping it under masterPassword. It fails if
// a keystore already exists there.
func Init(path string, masterPassword []byte) error {
	if _, err := os.Stat(path); err == nil {
		return errors.New("keystore: already initialized")
	}
	sessionKey := common.GenerateRandByteArray(32) // AES-256 key, matches chunk.KeyLen
	defer common.WipeByteArray(sessionKey)
	return writeWrapped(path, masterPassword, sessionKey)
}

func writeWrapped(path string, masterPassword, sessionKey []byte) error {
	salt := common.GenerateRandByteArray(32)
	kek := cryptox.DeriveMasterKey(masterPassword, salt)
	defer common.WipeByteArray(kek)
	verifier := cryptox.MakeVerifier(kek)

	ciphertext, nonce, err := cryptox.EncryptEntry(sessionKey, kek)
	if err != nil {
		return err
	}

	rec := fileRecord{Salt: salt, Verifier: verifier, WrappedKey: ciphertext, Nonce: nonce}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (k *FileKeystore) Unlock(ctx context.Context, masterPassword []byte) ([]byte, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
		return nil, ErrCorrupt
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrCorrupt
	}

	kek := cryptox.DeriveMasterKey(masterPassword, rec.Salt)
	defer common.WipeByteArray(kek)
	verifier := cryptox.MakeVerifier(kek)

	if subtle.ConstantTimeCompare(verifier, rec.Verifier) == 0 {
		return nil, ErrIncorrectPassword
	}

	var sessionKey []byte
	if err := cryptox.DecryptEntry(rec.WrappedKey, rec.Nonce, kek, &sessionKey); err != nil {
		return nil, ErrCorrupt
	}

	return sessionKey, nil
}

func (k *FileKeystore) Lock(ctx context.Context) error { return nil }

// Export returns base64(JSON(fileRecord)) — the whole wrapped record,
// since unwrapping requires the same master password on the importing
// machine; Import re-wraps under a (possibly different) password.
func (k *FileKeystore) Export(ctx context.Context) (string, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Import decodes a bundle produced by Export, unwraps its session key
// using masterPassword (the password in effect on the exporting
// machine), then re-wraps it under masterPassword here and writes it to
// this keystore's path, overwriting any existing file.
func (k *FileKeystore) Import(ctx context.Context, bundle string, masterPassword []byte) error {
	raw, err := decodeBundle(bundle)
	if err != nil {
		return err
	}

	var rec fileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ErrCorrupt
	}

	kek := cryptox.DeriveMasterKey(masterPassword, rec.Salt)
	defer common.WipeByteArray(kek)
	verifier := cryptox.MakeVerifier(kek)
	if subtle.ConstantTimeCompare(verifier, rec.Verifier) == 0 {
		return ErrIncorrectPassword
	}

	var sessionKey []byte
	if err := cryptox.DecryptEntry(rec.WrappedKey, rec.Nonce, kek, &sessionKey); err != nil {
		return ErrCorrupt
	}
	defer common.WipeByteArray(sessionKey)

	return writeWrapped(k.path, masterPassword, sessionKey)
}

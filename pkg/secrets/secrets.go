// Package secrets resolves a passphrase-encrypted secrets store into
// memory-only values for the lifetime of one run. The store is an age
// (scrypt recipient) encrypted YAML document mapping keys to strings.
//
// Resolution is all-or-nothing: a wrong passphrase or corrupt store fails
// before any task referencing secrets executes. Plaintext never touches
// disk, and the Value wrapper redacts itself from logs, errors and
// serialized output.
package secrets

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"filippo.io/age"
	"gopkg.in/yaml.v3"

	"github.com/hostplane/hostplane/pkg/engine"
)

// Redacted is what a Value renders as anywhere it could leak.
const Redacted = "<redacted>"

// Value holds one resolved secret. Its String, GoString and marshal
// implementations all emit a redaction marker; only Plaintext returns the
// real content.
type Value struct {
	data []byte
}

// Plaintext returns the secret content. Callers must not log it.
func (v Value) Plaintext() string { return string(v.data) }

// String implements fmt.Stringer with redaction.
func (v Value) String() string { return Redacted }

// GoString implements fmt.GoStringer with redaction, so %#v is safe too.
func (v Value) GoString() string { return Redacted }

// MarshalJSON implements json.Marshaler with redaction.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}

// MarshalYAML implements yaml.Marshaler with redaction.
func (v Value) MarshalYAML() (interface{}, error) {
	return Redacted, nil
}

// Vault holds all resolved secrets for one run. It is owned exclusively by
// the run that resolved it and must be closed when the run ends.
type Vault struct {
	values map[string]*Value
}

// Get returns the secret for key.
func (v *Vault) Get(key string) (Value, bool) {
	val, ok := v.values[key]
	if !ok {
		return Value{}, false
	}
	return *val, true
}

// Lookup returns the plaintext for key or an error naming only the key.
// Suitable as a template function.
func (v *Vault) Lookup(key string) (string, error) {
	val, ok := v.values[key]
	if !ok {
		return "", fmt.Errorf("unknown secret key %q", key)
	}
	return string(val.data), nil
}

// Keys returns the sorted secret key names. Key names are not secret.
func (v *Vault) Keys() []string {
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of resolved secrets.
func (v *Vault) Len() int { return len(v.values) }

// Close zeroes all plaintext buffers. The vault is unusable afterwards.
func (v *Vault) Close() {
	for _, val := range v.values {
		for i := range val.data {
			val.data[i] = 0
		}
	}
	v.values = nil
}

// Resolve decrypts an encrypted store into a Vault. Decryption failure is
// fatal and reported as a SecretError; no partially-resolved vault is ever
// returned.
func Resolve(ciphertext []byte, passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, engine.NewSecretError("passphrase is required", nil)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, engine.NewSecretError("failed to derive identity", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, engine.NewSecretError("failed to decrypt store", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, engine.NewSecretError("failed to read decrypted store", err)
	}
	defer zero(plaintext)

	var raw map[string]string
	if err := yaml.Unmarshal(plaintext, &raw); err != nil {
		// The yaml error can quote document content; do not wrap it.
		return nil, engine.NewSecretError("store payload is not a valid key/value document", nil)
	}

	vault := &Vault{values: make(map[string]*Value, len(raw))}
	for key, value := range raw {
		vault.values[key] = &Value{data: []byte(value)}
	}
	return vault, nil
}

// ResolveFile reads and decrypts the store at path.
func ResolveFile(path, passphrase string) (*Vault, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewSecretError("failed to read store", err)
	}
	return Resolve(ciphertext, passphrase)
}

// Seal encrypts a key/value document with the passphrase, producing a store
// Resolve can read. Used by the secrets CLI and by tests.
func Seal(values map[string]string, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, engine.NewSecretError("passphrase is required", nil)
	}

	payload, err := yaml.Marshal(values)
	if err != nil {
		return nil, engine.NewSecretError("failed to encode payload", nil)
	}
	defer zero(payload)

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, engine.NewSecretError("failed to derive recipient", err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return nil, engine.NewSecretError("failed to create encryptor", err)
	}
	if _, err := writer.Write(payload); err != nil {
		return nil, engine.NewSecretError("failed to encrypt payload", err)
	}
	if err := writer.Close(); err != nil {
		return nil, engine.NewSecretError("failed to finalize encryption", err)
	}

	return ciphertext.Bytes(), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

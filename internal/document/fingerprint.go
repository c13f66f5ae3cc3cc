package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint is the hex-encoded SHA-256 digest of a document's canonical form.
type Fingerprint string

// Short returns an abbreviated fingerprint for log output.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// Canonical returns the compact serialization used for fingerprinting.
// Object keys are sorted at every level, so insertion order never matters.
func Canonical(d Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d.root); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sum computes the fingerprint of d. It only fails for values that are not
// representable as JSON, which Parse never produces.
func Sum(d Document) (Fingerprint, error) {
	data, err := Canonical(d)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(h[:])), nil
}

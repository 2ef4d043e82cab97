package runlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// Fingerprint accumulates the inputs of a stage into a SHA-256 digest:
// configuration values, file contents and upstream fingerprints.
type Fingerprint struct {
	h hash.Hash
}

// NewFingerprint starts an empty fingerprint for the named stage.
func NewFingerprint(stage string) *Fingerprint {
	f := &Fingerprint{h: sha256.New()}
	f.Add(stage)
	return f
}

// Add adds a string value.
func (f *Fingerprint) Add(s string) *Fingerprint {
	io.WriteString(f.h, s) //nolint:errcheck
	f.h.Write([]byte{0})   //nolint:errcheck
	return f
}

// JSON adds the JSON encoding of v.
func (f *Fingerprint) JSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "runlog: fingerprint value")
	}
	f.h.Write(b)         //nolint:errcheck
	f.h.Write([]byte{0}) //nolint:errcheck
	return nil
}

// File adds the path and content of a file. An empty path is skipped.
func (f *Fingerprint) File(path string) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "runlog: fingerprint %s", path)
	}
	defer file.Close() //nolint:errcheck
	f.Add(path)
	if _, err := io.Copy(f.h, file); err != nil {
		return eris.Wrapf(err, "runlog: fingerprint %s", path)
	}
	f.h.Write([]byte{0}) //nolint:errcheck
	return nil
}

// Sum returns the hex digest. The fingerprint must not be used afterwards.
func (f *Fingerprint) Sum() string {
	return hex.EncodeToString(f.h.Sum(nil))
}

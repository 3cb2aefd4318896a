package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const (
	cacheBodyFile = "body.ics"
	cacheMetaFile = "meta.json"
)

// validators are the conditional-GET validators stored next to a body.
type validators struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// bodyCache keeps the last good body of every feed URL on disk, one
// directory per URL named after a hash of the URL.
type bodyCache struct {
	root string
}

// cacheSlot is the cache directory of one URL.
type cacheSlot string

func (c bodyCache) slot(rawURL string) (cacheSlot, error) {
	sum := sha256.Sum256([]byte(rawURL))
	dir := filepath.Join(c.root, hex.EncodeToString(sum[:8]))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return cacheSlot(dir), nil
}

// load returns the cached body and its validators. A missing or corrupt
// entry yields a nil body; validators without a body are never returned.
func (s cacheSlot) load() (validators, []byte) {
	body, err := os.ReadFile(filepath.Join(string(s), cacheBodyFile))
	if err != nil || len(body) == 0 {
		return validators{}, nil
	}
	var v validators
	if data, err := os.ReadFile(filepath.Join(string(s), cacheMetaFile)); err == nil {
		_ = json.Unmarshal(data, &v)
	}
	return v, body
}

// store replaces body and validators. The body is written first so the
// validators never describe a body that is not on disk.
func (s cacheSlot) store(v validators, body []byte) error {
	if err := writeFileAtomic(filepath.Join(string(s), cacheBodyFile), body); err != nil {
		return err
	}
	v.StoredAt = time.Now().UTC()
	data, err := json.MarshalIndent(&v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(string(s), cacheMetaFile), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".hpvcal-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

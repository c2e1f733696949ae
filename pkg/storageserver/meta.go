package storageserver

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AccessEntry grants a user read and/or write on one file. The flags
// are 0/1 integers to match the persisted form.
type AccessEntry struct {
	User  string `json:"user"`
	Read  int    `json:"read"`
	Write int    `json:"write"`
}

// CanRead reports the read bit.
func (e AccessEntry) CanRead() bool { return e.Read != 0 }

// CanWrite reports the write bit.
func (e AccessEntry) CanWrite() bool { return e.Write != 0 }

// Metadata is the per-file record persisted next to the content.
// Timestamps are UNIX seconds.
type Metadata struct {
	Owner          string        `json:"owner"`
	Created        int64         `json:"created"`
	Modified       int64         `json:"modified"`
	Accessed       int64         `json:"accessed"`
	LastAccessUser string        `json:"last_access_user"`
	AccessList     []AccessEntry `json:"access_list"`
}

func (m *Metadata) entry(user string) *AccessEntry {
	for i := range m.AccessList {
		if m.AccessList[i].User == user {
			return &m.AccessList[i]
		}
	}
	return nil
}

// grant inserts or upgrades an entry. Mode "W" gives read+write,
// anything else read only.
func (m *Metadata) grant(user, mode string) {
	write := 0
	if mode == "W" {
		write = 1
	}
	if e := m.entry(user); e != nil {
		e.Read = 1
		if write == 1 {
			e.Write = 1
		}
		return
	}
	m.AccessList = append(m.AccessList, AccessEntry{User: user, Read: 1, Write: write})
}

// revoke removes the entry, reporting whether it existed.
func (m *Metadata) revoke(user string) bool {
	for i := range m.AccessList {
		if m.AccessList[i].User == user {
			m.AccessList = append(m.AccessList[:i], m.AccessList[i+1:]...)
			return true
		}
	}
	return false
}

// lastUser returns the last access user, falling back to the owner.
func (m *Metadata) lastUser() string {
	if m.LastAccessUser != "" {
		return m.LastAccessUser
	}
	return m.Owner
}

func loadMetadata(path string) (Metadata, error) {
	var m Metadata
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return m, nil
}

func saveMetadata(path string, m Metadata) error {
	if m.LastAccessUser == "" {
		m.LastAccessUser = m.Owner
	}
	if m.AccessList == nil {
		m.AccessList = []AccessEntry{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

package claim

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"vbmsd/native/ledger"
)

// DenyEntry describes a known exploiter address barred from conversions. The
// metadata beyond the address exists for the incident report endpoint.
type DenyEntry struct {
	Address      string `yaml:"address"`
	Username     string `yaml:"username"`
	FID          uint64 `yaml:"fid"`
	AmountStolen uint64 `yaml:"amountStolen"`
	Claims       uint32 `yaml:"claims"`
}

type denyListFile struct {
	Entries []DenyEntry `yaml:"denylist"`
}

// DenyList is an immutable address set loaded at startup.
type DenyList struct {
	entries map[[20]byte]DenyEntry
}

// NewDenyList builds a list from in-memory entries.
func NewDenyList(entries []DenyEntry) (*DenyList, error) {
	list := &DenyList{entries: make(map[[20]byte]DenyEntry, len(entries))}
	for _, entry := range entries {
		addr, err := ledger.DecodeAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("claim: deny list entry %q: %w", entry.Address, err)
		}
		normalised := entry
		normalised.Address = ledger.FormatAddress(addr)
		normalised.Username = strings.TrimSpace(entry.Username)
		list.entries[addr] = normalised
	}
	return list, nil
}

// LoadDenyList reads the YAML policy file at path. A missing path yields an
// empty list so deployments without an incident file work unchanged.
func LoadDenyList(path string) (*DenyList, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return NewDenyList(nil)
	}
	raw, err := os.ReadFile(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDenyList(nil)
		}
		return nil, fmt.Errorf("claim: read deny list: %w", err)
	}
	var file denyListFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("claim: parse deny list: %w", err)
	}
	return NewDenyList(file.Entries)
}

// Contains reports whether the address is denied.
func (d *DenyList) Contains(addr [20]byte) bool {
	if d == nil {
		return false
	}
	_, ok := d.entries[addr]
	return ok
}

// Lookup returns the deny entry for an address when present.
func (d *DenyList) Lookup(addr [20]byte) (DenyEntry, bool) {
	if d == nil {
		return DenyEntry{}, false
	}
	entry, ok := d.entries[addr]
	return entry, ok
}

// Entries returns the full list sorted by amount stolen, largest first.
func (d *DenyList) Entries() []DenyEntry {
	if d == nil {
		return nil
	}
	out := make([]DenyEntry, 0, len(d.entries))
	for _, entry := range d.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AmountStolen != out[j].AmountStolen {
			return out[i].AmountStolen > out[j].AmountStolen
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// Len reports the number of denied addresses.
func (d *DenyList) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

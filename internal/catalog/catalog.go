// Package catalog holds the live set of known whiskey records that
// predictions are joined against.
package catalog

import (
	"context"
	"fmt"
	"strings"
)

// Entry is one known whiskey. UniqueName is the join key against model labels.
type Entry struct {
	ID         int64  `json:"id" gorm:"column:id"`
	UniqueName string `json:"unique_name" gorm:"column:unique_name"`
	Name       string `json:"name" gorm:"column:name"`
	Stock      int    `json:"stock" gorm:"column:stock"`
}

// Catalog is a validated, read-only, ordered set of entries. It is safe for
// concurrent reads.
type Catalog struct {
	entries    []Entry
	index      map[string]int
	duplicates []string
}

// Source loads a catalog snapshot.
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}

// New validates entries once and indexes them by unique name. When a unique
// name repeats, the first entry is kept and the name is reported by
// Duplicates.
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		e.UniqueName = strings.TrimSpace(e.UniqueName)
		if e.UniqueName == "" {
			return nil, fmt.Errorf("catalog entry %d (id %d): empty unique_name", i, e.ID)
		}
		if e.Stock < 0 {
			return nil, fmt.Errorf("catalog entry %q: negative stock %d", e.UniqueName, e.Stock)
		}
		if _, ok := c.index[e.UniqueName]; ok {
			c.duplicates = append(c.duplicates, e.UniqueName)
			continue
		}
		c.index[e.UniqueName] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// Len returns the number of distinct entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entries returns the entries in catalog order.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup finds an entry by unique name.
func (c *Catalog) Lookup(uniqueName string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	i, ok := c.index[uniqueName]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Duplicates lists unique names that appeared more than once in the input.
func (c *Catalog) Duplicates() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.duplicates...)
}

// Package lookup holds read-only reference data (providers and locations)
// that is passed explicitly to the normalizer and the segmentation engine.
package lookup

import (
	"strconv"
	"strings"

	"github.com/mrlokans/clinicsync/internal/config"
	"github.com/mrlokans/clinicsync/internal/entities"
)

// ProviderSource lists known providers.
type ProviderSource interface {
	Providers() ([]entities.Provider, error)
}

// Table is an immutable snapshot of providers and locations. The zero value
// is an empty, usable table.
type Table struct {
	providersByID       map[uint]entities.Provider
	providersByExternal map[string]entities.Provider
	locations           []config.Location
	locationsByKey      map[string]config.Location
}

// New builds a table from the given providers and locations.
func New(providers []entities.Provider, locations []config.Location) *Table {
	t := &Table{
		providersByID:       make(map[uint]entities.Provider, len(providers)),
		providersByExternal: make(map[string]entities.Provider, len(providers)),
		locations:           append([]config.Location(nil), locations...),
		locationsByKey:      make(map[string]config.Location, len(locations)),
	}
	for _, p := range providers {
		t.providersByID[p.ID] = p
		if p.ExternalID != "" {
			t.providersByExternal[p.ExternalID] = p
		}
	}
	for _, l := range locations {
		t.locationsByKey[l.Key] = l
	}
	return t
}

// Load snapshots the providers currently in src.
func Load(src ProviderSource, locations []config.Location) (*Table, error) {
	providers, err := src.Providers()
	if err != nil {
		return nil, err
	}
	return New(providers, locations), nil
}

// ProviderName returns the display name of a local provider id, or "".
func (t *Table) ProviderName(id *uint) string {
	if t == nil || id == nil {
		return ""
	}
	return t.providersByID[*id].Name
}

// ProviderByExternal resolves a platform staff id.
func (t *Table) ProviderByExternal(externalID string) (entities.Provider, bool) {
	if t == nil {
		return entities.Provider{}, false
	}
	p, ok := t.providersByExternal[externalID]
	return p, ok
}

// MatchProviders resolves a filter value to local provider ids. The value
// may be a local id, a platform staff id or a case-insensitive name.
func (t *Table) MatchProviders(value string) []uint {
	value = strings.TrimSpace(value)
	if t == nil || value == "" {
		return nil
	}

	if id, err := strconv.ParseUint(value, 10, 64); err == nil {
		if _, ok := t.providersByID[uint(id)]; ok {
			return []uint{uint(id)}
		}
	}
	if p, ok := t.providersByExternal[value]; ok {
		return []uint{p.ID}
	}

	var ids []uint
	for id, p := range t.providersByID {
		if strings.EqualFold(strings.TrimSpace(p.Name), value) {
			ids = append(ids, id)
		}
	}
	return ids
}

// LocationName returns the configured display name for key, falling back to
// the key itself.
func (t *Table) LocationName(key string) string {
	if t != nil {
		if l, ok := t.locationsByKey[key]; ok && l.Name != "" {
			return l.Name
		}
	}
	return key
}

// HasLocation reports whether key is a configured location.
func (t *Table) HasLocation(key string) bool {
	if t == nil {
		return false
	}
	_, ok := t.locationsByKey[key]
	return ok
}

// Locations returns the configured locations in index order.
func (t *Table) Locations() []config.Location {
	if t == nil {
		return nil
	}
	return append([]config.Location(nil), t.locations...)
}

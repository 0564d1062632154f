package catalog

import (
	"time"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

// Snapshot is an immutable view of every master in one company at LoadedAt.
type Snapshot struct {
	company  string
	loadedAt time.Time
	names    map[domain.CatalogKind]map[string]string // folded -> as exported
}

// SnapshotData is the serializable form shared through a SnapshotStore.
type SnapshotData struct {
	Company  string                          `json:"company"`
	LoadedAt time.Time                       `json:"loaded_at"`
	Names    map[domain.CatalogKind][]string `json:"names"`
}

// NewSnapshot builds a snapshot from exported names.
func NewSnapshot(company string, loadedAt time.Time, names map[domain.CatalogKind][]string) *Snapshot {
	s := &Snapshot{
		company:  company,
		loadedAt: loadedAt.UTC(),
		names:    make(map[domain.CatalogKind]map[string]string, len(names)),
	}
	for kind, list := range names {
		set := make(map[string]string, len(list))
		for _, n := range list {
			set[domain.NormalizeName(n)] = n
		}
		s.names[kind] = set
	}
	return s
}

// FromData rebuilds a snapshot published by another replica.
func FromData(d SnapshotData) *Snapshot {
	return NewSnapshot(d.Company, d.LoadedAt, d.Names)
}

// Company returns the company the snapshot covers.
func (s *Snapshot) Company() string { return s.company }

// LoadedAt returns when the export finished.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Has reports whether a master of kind named name exists, ignoring case and
// repeated whitespace.
func (s *Snapshot) Has(kind domain.CatalogKind, name string) bool {
	_, ok := s.names[kind][domain.NormalizeName(name)]
	return ok
}

// Counts returns the number of masters per kind.
func (s *Snapshot) Counts() map[domain.CatalogKind]int {
	out := make(map[domain.CatalogKind]int, len(s.names))
	for k, set := range s.names {
		out[k] = len(set)
	}
	return out
}

// With returns a copy that also contains name under kind. The receiver is
// not modified.
func (s *Snapshot) With(kind domain.CatalogKind, name string) *Snapshot {
	out := &Snapshot{
		company:  s.company,
		loadedAt: s.loadedAt,
		names:    make(map[domain.CatalogKind]map[string]string, len(s.names)+1),
	}
	for k, set := range s.names {
		out.names[k] = set
	}
	set := make(map[string]string, len(s.names[kind])+1)
	for f, n := range s.names[kind] {
		set[f] = n
	}
	set[domain.NormalizeName(name)] = name
	out.names[kind] = set
	return out
}

// Data returns the serializable form.
func (s *Snapshot) Data() SnapshotData {
	d := SnapshotData{
		Company:  s.company,
		LoadedAt: s.loadedAt,
		Names:    make(map[domain.CatalogKind][]string, len(s.names)),
	}
	for k, set := range s.names {
		list := make([]string, 0, len(set))
		for _, n := range set {
			list = append(list, n)
		}
		d.Names[k] = list
	}
	return d
}

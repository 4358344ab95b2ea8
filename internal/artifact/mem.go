package artifact

import (
	"sync"

	"github.com/google/uuid"

	"github.com/pressurefield/kernel/internal/region"
)

type memRegion struct {
	kind        string
	content     []byte
	version     uint64
	positionKey string
}

// Mem is an in-memory Artifact, used by kernelsim and by tests that don't
// need persistence.
type Mem struct {
	mu          sync.Mutex
	namespace   uuid.UUID
	order       []region.ID
	regions     map[region.ID]*memRegion
	nextOrdinal int
}

// NewMem splits content into regions of the given kind and builds an
// in-memory artifact from them. namespaceSeed scopes the derived region
// ids to this artifact (two Mem artifacts built from the same seed and
// content produce identical region ids).
func NewMem(namespaceSeed string, kind string, content []byte) *Mem {
	namespace := uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespaceSeed))
	m := &Mem{
		namespace: namespace,
		regions:   make(map[region.ID]*memRegion),
	}
	for _, chunk := range Split(content) {
		m.appendRegion(kind, chunk, "")
	}
	return m
}

func (m *Mem) appendRegion(kind string, content []byte, derivedFrom string) region.ID {
	key := positionKey(m.nextOrdinal, derivedFrom)
	m.nextOrdinal++
	id := deriveID(m.namespace, key)
	m.regions[id] = &memRegion{kind: kind, content: content, version: 1, positionKey: key}
	m.order = append(m.order, id)
	return id
}

// RegionIDs implements Artifact.
func (m *Mem) RegionIDs() []region.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]region.ID, len(m.order))
	copy(out, m.order)
	return out
}

// ReadRegion implements Artifact.
func (m *Mem) ReadRegion(id region.ID) (region.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[id]
	if !ok {
		return region.View{}, ErrRegionNotFound
	}
	return region.View{ID: id, Kind: r.kind, Content: append([]byte(nil), r.content...), Version: r.version}, nil
}

// ApplyPatch implements Artifact.
func (m *Mem) ApplyPatch(p region.Patch) (region.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[p.Region]
	if !ok {
		return region.View{}, ErrRegionNotFound
	}

	switch p.Op {
	case region.OpReplace:
		r.content = append([]byte(nil), p.Bytes...)
		r.version++
		return region.View{ID: p.Region, Kind: r.kind, Content: append([]byte(nil), r.content...), Version: r.version}, nil
	case region.OpDelete:
		delete(m.regions, p.Region)
		m.removeFromOrder(p.Region)
		return region.View{ID: p.Region, Version: r.version}, nil
	case region.OpInsertAfter:
		r.version++
		newID := m.appendRegion(r.kind, p.Bytes, r.positionKey)
		m.insertAfterInOrder(p.Region, newID)
		return region.View{ID: p.Region, Kind: r.kind, Content: append([]byte(nil), r.content...), Version: r.version}, nil
	default:
		return region.View{}, ErrRegionNotFound
	}
}

func (m *Mem) removeFromOrder(id region.ID) {
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Mem) insertAfterInOrder(after, newID region.ID) {
	for i, oid := range m.order {
		if oid == after {
			m.order = append(m.order[:i+1], append([]region.ID{newID}, m.order[i+1:]...)...)
			return
		}
	}
	m.order = append(m.order, newID)
}

// Source implements Artifact by concatenating all regions in order,
// double-newline separated, the inverse of Split.
func (m *Mem) Source() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []byte
	for i, id := range m.order {
		if i > 0 {
			out = append(out, '\n', '\n')
		}
		out = append(out, m.regions[id].content...)
	}
	return out, true
}

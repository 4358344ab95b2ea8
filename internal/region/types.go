// Package region defines the kernel's core data model: the region
// identity, its read-only snapshot, the signal map sensors produce, and
// the patch shape the artifact capability consumes.
package region

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ID is a region's stable, 128-bit opaque identifier. It is deterministic
// across re-parses of the same artifact position.
type ID uuid.UUID

// NilID is the zero value of ID, never a valid region identifier.
var NilID ID

// String renders the id in canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Less orders two ids lexicographically, the deterministic tie-break used
// when sorting activated regions by pressure.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// NewID derives a deterministic region id from an artifact-scoped
// namespace and a stable position key (e.g. an ordinal key), so re-parsing
// the same artifact without structural change reproduces identical ids.
func NewID(namespace uuid.UUID, positionKey string) ID {
	return ID(uuid.NewSHA1(namespace, []byte(positionKey)))
}

// MarshalJSON renders the id as its canonical UUID string, so control-plane
// JSON carries readable ids rather than raw byte arrays.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses the canonical UUID string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = ID(u)
	return nil
}

// View is a read-only snapshot of a region's content passed to sensors and
// proposers. Snapshots may become stale relative to the owning region
// actor's current state; staleness is detected by version comparison at
// patch-apply time.
type View struct {
	ID       ID
	Kind     string
	Content  []byte
	Metadata map[string]json.RawMessage
	Version  uint64
}

// Signals maps a sensor-local signal name to its measured magnitude.
type Signals map[string]float64

// Clone returns an independent copy of the signal map.
func (s Signals) Clone() Signals {
	out := make(Signals, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// PatchOp tags the kind of mutation a Patch applies.
type PatchOp int

const (
	// OpReplace replaces the region's entire content with Bytes.
	OpReplace PatchOp = iota
	// OpDelete removes the region entirely.
	OpDelete
	// OpInsertAfter inserts Bytes immediately after the region.
	OpInsertAfter
)

func (op PatchOp) String() string {
	switch op {
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	case OpInsertAfter:
		return "insert_after"
	default:
		return "unknown"
	}
}

// Patch is the unit the artifact capability consumes.
type Patch struct {
	Region ID
	Op     PatchOp
	Bytes  []byte
	// Rationale is a free-form human-readable justification from the
	// proposer; never interpreted by the kernel.
	Rationale string
	// ExpectedDelta is the proposer's per-axis hint, keyed by pressure axis
	// name, of how much each axis's signal should change if the patch is
	// applied, used to compute expected improvement during selection. Keys
	// that name no axis contribute nothing.
	ExpectedDelta map[string]float64
	// BaseVersion is the region version the proposer observed when it
	// built this patch; used to detect staleness at apply time.
	BaseVersion uint64
}

// Package artifact defines the Artifact capability the kernel consumes
// (region enumeration, read, patch application) and provides two
// implementations: an in-memory Mem for tests and demos, and a BoltDB
// backed Bolt store for a persistent reference deployment.
//
// Region ids are derived once, at split time, from a document-scoped
// namespace and each region's ordinal position key — never from byte
// offset — so a Replace that changes a region's length never perturbs any
// other region's id, satisfying the requirement that untouched regions
// keep stable identifiers across patch application.
package artifact

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"

	"github.com/pressurefield/kernel/internal/region"
)

// Artifact is the capability the kernel consumes.
type Artifact interface {
	RegionIDs() []region.ID
	ReadRegion(id region.ID) (region.View, error)
	ApplyPatch(p region.Patch) (region.View, error)
	// Source returns the artifact's full backing content, if the
	// implementation can reconstruct one; ok is false otherwise.
	Source() (data []byte, ok bool)
}

// ErrRegionNotFound is returned by ReadRegion/ApplyPatch for an unknown id.
var ErrRegionNotFound = fmt.Errorf("artifact: region not found")

// Split partitions content into region-sized chunks on blank-line
// boundaries, the simplest stable splitting rule that still produces
// multiple editable regions for prose/code/config text alike.
func Split(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	parts := bytes.Split(content, []byte("\n\n"))
	out := make([][]byte, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = [][]byte{content}
	}
	return out
}

// positionKey returns the stable, order-derived key used to mint a
// region's id. derivedFrom names the parent region when a key is minted
// for a region created by InsertAfter, so inserted ids are themselves
// deterministic rather than random.
func positionKey(ordinal int, derivedFrom string) string {
	if derivedFrom == "" {
		return fmt.Sprintf("region-%d", ordinal)
	}
	return fmt.Sprintf("%s+insert+%d", derivedFrom, ordinal)
}

func deriveID(namespace uuid.UUID, key string) region.ID {
	return region.NewID(namespace, key)
}

package artifact

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/pressurefield/kernel/internal/region"
)

func TestSplit_BlankLineBoundaries(t *testing.T) {
	got := Split([]byte("alpha\n\nbeta\n\ngamma"))
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %q", len(want), len(got), got)
	}
	for i, w := range want {
		if string(got[i]) != w {
			t.Errorf("chunk %d: expected %q, got %q", i, w, got[i])
		}
	}
}

func TestSplit_EmptyContentReturnsNil(t *testing.T) {
	if got := Split(nil); got != nil {
		t.Fatalf("expected nil for empty content, got %v", got)
	}
}

func TestSplit_NoBlankLinesReturnsSingleChunk(t *testing.T) {
	got := Split([]byte("one unbroken blob"))
	if len(got) != 1 || string(got[0]) != "one unbroken blob" {
		t.Fatalf("expected a single chunk, got %v", got)
	}
}

func TestNewMem_RoundTripsThroughSource(t *testing.T) {
	content := []byte("alpha\n\nbeta\n\ngamma")
	m := NewMem("doc-a", "text", content)

	src, ok := m.Source()
	if !ok {
		t.Fatal("expected Source to succeed for Mem")
	}
	if !bytes.Equal(src, content) {
		t.Fatalf("expected Source to reconstruct the original content, got %q", src)
	}
}

func TestNewMem_RegionIDsAreDeterministicAcrossRebuild(t *testing.T) {
	content := []byte("alpha\n\nbeta")
	a := NewMem("doc-a", "text", content)
	b := NewMem("doc-a", "text", content)

	idsA, idsB := a.RegionIDs(), b.RegionIDs()
	if len(idsA) != len(idsB) {
		t.Fatalf("expected equal region counts, got %d vs %d", len(idsA), len(idsB))
	}
	for i := range idsA {
		if idsA[i] != idsB[i] {
			t.Fatalf("expected identical region id at position %d for the same seed and content, got %s vs %s", i, idsA[i], idsB[i])
		}
	}
}

func TestMem_ApplyPatch_ReplaceBumpsVersionKeepsID(t *testing.T) {
	m := NewMem("doc-a", "text", []byte("alpha\n\nbeta"))
	ids := m.RegionIDs()
	target := ids[0]

	before, err := m.ReadRegion(target)
	if err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}

	after, err := m.ApplyPatch(region.Patch{Region: target, Op: region.OpReplace, Bytes: []byte("ALPHA"), BaseVersion: before.Version})
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if after.ID != target {
		t.Fatalf("expected Replace to keep the region's id stable, got %s vs %s", after.ID, target)
	}
	if after.Version != before.Version+1 {
		t.Fatalf("expected version to bump by 1, got %d -> %d", before.Version, after.Version)
	}
	if string(after.Content) != "ALPHA" {
		t.Fatalf("expected replaced content, got %q", after.Content)
	}

	// Untouched sibling region keeps its id.
	sibling, err := m.ReadRegion(ids[1])
	if err != nil {
		t.Fatalf("ReadRegion sibling: %v", err)
	}
	if sibling.Version != 1 {
		t.Fatalf("expected the untouched sibling's version to be unaffected, got %d", sibling.Version)
	}
}

func TestMem_ApplyPatch_DeleteRemovesRegion(t *testing.T) {
	m := NewMem("doc-a", "text", []byte("alpha\n\nbeta"))
	ids := m.RegionIDs()
	target := ids[0]

	if _, err := m.ApplyPatch(region.Patch{Region: target, Op: region.OpDelete}); err != nil {
		t.Fatalf("ApplyPatch delete: %v", err)
	}

	if _, err := m.ReadRegion(target); err != ErrRegionNotFound {
		t.Fatalf("expected ErrRegionNotFound after delete, got %v", err)
	}
	if len(m.RegionIDs()) != 1 {
		t.Fatalf("expected 1 remaining region, got %d", len(m.RegionIDs()))
	}

	src, _ := m.Source()
	if !bytes.Equal(src, []byte("beta")) {
		t.Fatalf("expected Source to reflect the delete, got %q", src)
	}
}

func TestMem_ApplyPatch_InsertAfterAddsNewRegion(t *testing.T) {
	m := NewMem("doc-a", "text", []byte("alpha\n\nbeta"))
	ids := m.RegionIDs()
	target := ids[0]

	if _, err := m.ApplyPatch(region.Patch{Region: target, Op: region.OpInsertAfter, Bytes: []byte("inserted")}); err != nil {
		t.Fatalf("ApplyPatch insert: %v", err)
	}

	newIDs := m.RegionIDs()
	if len(newIDs) != 3 {
		t.Fatalf("expected 3 regions after insert, got %d", len(newIDs))
	}
	if newIDs[0] != target {
		t.Fatalf("expected the original first region to remain first")
	}
	inserted, err := m.ReadRegion(newIDs[1])
	if err != nil {
		t.Fatalf("ReadRegion inserted: %v", err)
	}
	if string(inserted.Content) != "inserted" {
		t.Fatalf("expected the inserted region's content, got %q", inserted.Content)
	}

	src, _ := m.Source()
	if !bytes.Equal(src, []byte("alpha\n\ninserted\n\nbeta")) {
		t.Fatalf("expected Source to place the inserted region between its neighbours, got %q", src)
	}
}

func TestMem_ApplyPatch_UnknownRegionReturnsNotFound(t *testing.T) {
	m := NewMem("doc-a", "text", []byte("alpha"))
	unknown := region.NewID(uuid.New(), "does-not-exist")

	if _, err := m.ApplyPatch(region.Patch{Region: unknown, Op: region.OpReplace, Bytes: []byte("x")}); err != ErrRegionNotFound {
		t.Fatalf("expected ErrRegionNotFound, got %v", err)
	}
}

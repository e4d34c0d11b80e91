package ir

import "dexsmith/internal/dex"

// ItemKind tags one entry of a method's item sequence.
type ItemKind uint8

const (
	// ItemInsn is a real instruction.
	ItemInsn ItemKind = iota
	// ItemTarget marks the destination of exactly one branching instruction.
	ItemTarget
	// ItemTryStart opens an exception range.
	ItemTryStart
	// ItemTryEnd closes an exception range.
	ItemTryEnd
	// ItemCatch marks a handler entry point.
	ItemCatch
	// ItemDebug anchors an opaque debug event.
	ItemDebug
	// ItemPosition anchors a source line marker.
	ItemPosition
	// ItemFallthrough sits immediately before a potentially-throwing
	// instruction so exceptional edges leave the state *before* that
	// instruction executes.
	ItemFallthrough
)

func (k ItemKind) String() string {
	switch k {
	case ItemInsn:
		return "insn"
	case ItemTarget:
		return "target"
	case ItemTryStart:
		return "try-start"
	case ItemTryEnd:
		return "try-end"
	case ItemCatch:
		return "catch"
	case ItemDebug:
		return "debug"
	case ItemPosition:
		return "position"
	case ItemFallthrough:
		return "fallthrough"
	}
	return "item?"
}

// TargetKind distinguishes plain branch targets from switch case targets.
type TargetKind uint8

const (
	// TargetSimple is the destination of a goto or conditional branch.
	TargetSimple TargetKind = iota
	// TargetCase is one case of a switch; CaseKey holds the case value.
	TargetCase
)

// Target is the auxiliary record of an ItemTarget. Src identifies the
// branching instruction by item, so replacing or resizing that
// instruction in place keeps the linkage intact.
type Target struct {
	Kind    TargetKind
	Src     *Item
	CaseKey int32
}

// TryMarker is shared by the paired ItemTryStart and ItemTryEnd of one
// exception range. CatchStart points at the first ItemCatch of the
// handler chain.
type TryMarker struct {
	CatchStart *Item
}

// Catch is the auxiliary record of an ItemCatch. Next links to the next
// handler tried for the same range, nil at the end of the chain.
type Catch struct {
	Type     dex.TypeID
	CatchAll bool
	Next     *Item
}

// Item is one entry of the ordered method sequence. Exactly one of the
// payload fields is meaningful, selected by Kind. The owning Body holds
// every item; once removed from its body an item must not be reused.
type Item struct {
	Kind ItemKind
	Addr uint32 // assigned during balloon and sync

	prev, next *Item

	Insn     *dex.Insn // ItemInsn
	Target   *Target   // ItemTarget
	Try      *TryMarker // ItemTryStart, ItemTryEnd
	Catch    *Catch    // ItemCatch
	Pos      dex.Position  // ItemPosition
	Note     dex.DebugNote // ItemDebug
	Throwing *Item     // ItemFallthrough: the guarded instruction item
}

// Next returns the following item, nil at the end of the sequence.
func (it *Item) Next() *Item { return it.next }

// Prev returns the preceding item, nil at the head of the sequence.
func (it *Item) Prev() *Item { return it.prev }

func newInsnItem(insn *dex.Insn) *Item {
	return &Item{Kind: ItemInsn, Insn: insn}
}

func newTargetItem(kind TargetKind, src *Item, key int32) *Item {
	return &Item{Kind: ItemTarget, Target: &Target{Kind: kind, Src: src, CaseKey: key}}
}

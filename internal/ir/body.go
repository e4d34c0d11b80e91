package ir

import (
	"fmt"
	"sort"

	"dexsmith/internal/dex"
)

// Body is the editable form of one method body: an ordered item sequence
// plus register metadata. It is built from a dex.Code by Balloon, mutated
// through the transform operations, and written back by Sync.
//
// A Body and everything it owns belong to the goroutine processing the
// method; nothing here locks.
type Body struct {
	Registers uint16
	Ins       uint16
	Outs      uint16

	head, tail *Item
	length     int

	// fill-array payloads ride outside the item sequence, keyed by their
	// owning instruction; sync re-emits them and patches the offset.
	arrayData map[*dex.Insn]*dex.FillArrayPayload

	cfg *Graph
	gen uint64 // bumped on every structural edit; CFG validity is tied to it
}

// Balloon expands a binary method body into its editable item sequence.
func Balloon(code *dex.Code) (*Body, error) {
	b := &Body{
		Registers: code.Registers,
		Ins:       code.Ins,
		Outs:      code.Outs,
		arrayData: make(map[*dex.Insn]*dex.FillArrayPayload),
	}

	insnAt := make(map[uint32]*Item)
	payloadAt := make(map[uint32]dex.Payload)
	var order []*Item

	for pos := 0; pos < len(code.Units); {
		addr := uint32(pos)
		if dex.IsPayloadIdent(code.Units[pos]) {
			payload, n, err := dex.ReadPayload(code.Units, pos)
			if err != nil {
				return nil, fmt.Errorf("balloon: %w", err)
			}
			payloadAt[addr] = payload
			pos += n
			continue
		}
		insn, n, err := dex.ReadInsn(code.Units, pos)
		if err != nil {
			return nil, fmt.Errorf("balloon: %w", err)
		}
		item := newInsnItem(insn)
		item.Addr = addr
		insnAt[addr] = item
		order = append(order, item)
		b.pushBack(item)
		pos += n
	}

	// Branch targets. Simple branches get one target marker; switches get
	// one marker per case, carrying the case key.
	for _, item := range order {
		insn := item.Insn
		op := insn.Opcode()
		switch {
		case dex.IsSwitch(op):
			payload, ok := payloadAt[item.Addr+uint32(insn.Offset())]
			if !ok {
				return nil, fmt.Errorf("balloon: switch at %d has no payload", item.Addr)
			}
			keys, targets, err := switchCases(payload)
			if err != nil {
				return nil, fmt.Errorf("balloon: switch at %d: %w", item.Addr, err)
			}
			for idx, rel := range targets {
				dest, ok := insnAt[item.Addr+uint32(rel)]
				if !ok {
					return nil, fmt.Errorf("balloon: switch case targets unit %d", int64(item.Addr)+int64(rel))
				}
				b.insertBefore(dest, newTargetItem(TargetCase, item, keys[idx]))
			}
		case dex.IsBranch(op):
			dest, ok := insnAt[item.Addr+uint32(insn.Offset())]
			if !ok {
				return nil, fmt.Errorf("balloon: branch at %d targets unit %d", item.Addr, int64(item.Addr)+int64(insn.Offset()))
			}
			b.insertBefore(dest, newTargetItem(TargetSimple, item, 0))
		case op == dex.OpFillArrayData:
			payload, ok := payloadAt[item.Addr+uint32(insn.Offset())]
			if !ok {
				return nil, fmt.Errorf("balloon: fill-array at %d has no payload", item.Addr)
			}
			fill, ok := payload.(*dex.FillArrayPayload)
			if !ok {
				return nil, fmt.Errorf("balloon: fill-array at %d references a switch payload", item.Addr)
			}
			b.arrayData[insn] = fill
		}
	}

	// Exception ranges become marker pairs plus a catch chain anchored at
	// each handler address.
	for ti := range code.Tries {
		t := &code.Tries[ti]
		startItem, ok := insnAt[t.Start]
		if !ok {
			return nil, fmt.Errorf("balloon: try start %d is not an instruction address", t.Start)
		}

		var first, prevCatch *Item
		link := func(c *Item) {
			if first == nil {
				first = c
			} else {
				prevCatch.Catch.Next = c
			}
			prevCatch = c
		}
		for _, arm := range t.Catches {
			handler, ok := insnAt[arm.Addr]
			if !ok {
				return nil, fmt.Errorf("balloon: handler %d is not an instruction address", arm.Addr)
			}
			c := &Item{Kind: ItemCatch, Catch: &Catch{Type: arm.Type}}
			b.insertBefore(handler, c)
			link(c)
		}
		if t.HasCatchAll {
			handler, ok := insnAt[t.CatchAllAddr]
			if !ok {
				return nil, fmt.Errorf("balloon: catch-all handler %d is not an instruction address", t.CatchAllAddr)
			}
			c := &Item{Kind: ItemCatch, Catch: &Catch{CatchAll: true}}
			b.insertBefore(handler, c)
			link(c)
		}
		if first == nil {
			return nil, fmt.Errorf("balloon: try range %d..%d has no handlers", t.Start, t.End)
		}

		marker := &TryMarker{CatchStart: first}
		b.insertBefore(startItem, &Item{Kind: ItemTryStart, Try: marker})
		if endItem, ok := insnAt[t.End]; ok {
			b.insertBefore(endItem, &Item{Kind: ItemTryEnd, Try: marker})
		} else {
			b.pushBack(&Item{Kind: ItemTryEnd, Try: marker})
		}
	}

	// Debug markers keep their anchor instruction.
	for _, pos := range code.Positions {
		if anchor, ok := insnAt[pos.Addr]; ok {
			b.insertBefore(anchor, &Item{Kind: ItemPosition, Pos: pos})
		}
	}
	for _, note := range code.Debug {
		if anchor, ok := insnAt[note.Addr]; ok {
			b.insertBefore(anchor, &Item{Kind: ItemDebug, Note: note})
		}
	}

	// Throwing fallthrough markers go in last so they sit immediately
	// before the instruction they guard.
	for _, item := range order {
		if dex.MayThrow(item.Insn.Opcode()) {
			b.insertBefore(item, &Item{Kind: ItemFallthrough, Throwing: item})
		}
	}

	return b, nil
}

func switchCases(payload dex.Payload) (keys, targets []int32, err error) {
	switch p := payload.(type) {
	case *dex.PackedSwitchPayload:
		for i, t := range p.Targets {
			keys = append(keys, p.FirstKey+int32(i))
			targets = append(targets, t)
		}
		return keys, targets, nil
	case *dex.SparseSwitchPayload:
		return p.Keys, p.Targets, nil
	default:
		return nil, nil, fmt.Errorf("instruction references a fill-array payload")
	}
}

// Front returns the first item of the sequence.
func (b *Body) Front() *Item { return b.head }

// Back returns the last item of the sequence.
func (b *Body) Back() *Item { return b.tail }

// Len returns the number of items in the sequence.
func (b *Body) Len() int { return b.length }

// Insns returns the instruction items in order, skipping every marker.
// The returned slice is a snapshot; it stays valid across edits.
func (b *Body) Insns() []*Item {
	var out []*Item
	for it := b.head; it != nil; it = it.next {
		if it.Kind == ItemInsn {
			out = append(out, it)
		}
	}
	return out
}

// FindInsn returns the item wrapping insn, or nil.
func (b *Body) FindInsn(insn *dex.Insn) *Item {
	for it := b.head; it != nil; it = it.next {
		if it.Kind == ItemInsn && it.Insn == insn {
			return it
		}
	}
	return nil
}

// ArrayData returns the payload owned by a fill-array-data instruction.
func (b *Body) ArrayData(insn *dex.Insn) *dex.FillArrayPayload {
	return b.arrayData[insn]
}

// SetArrayData attaches a payload to a fill-array-data instruction.
func (b *Body) SetArrayData(insn *dex.Insn, p *dex.FillArrayPayload) {
	b.arrayData[insn] = p
}

// CountOpcodes returns the number of real instructions.
func (b *Body) CountOpcodes() int {
	n := 0
	for it := b.head; it != nil; it = it.next {
		if it.Kind == ItemInsn {
			n++
		}
	}
	return n
}

// SumOpcodeSizes returns the estimated number of code units needed to
// encode the instructions, payloads excluded.
func (b *Body) SumOpcodeSizes() int {
	n := 0
	for it := b.head; it != nil; it = it.next {
		if it.Kind == ItemInsn {
			n += it.Insn.SizeUnits()
		}
	}
	return n
}

// pushBack appends item to the sequence.
func (b *Body) pushBack(item *Item) {
	item.prev = b.tail
	item.next = nil
	if b.tail != nil {
		b.tail.next = item
	} else {
		b.head = item
	}
	b.tail = item
	b.length++
}

// pushFront prepends item to the sequence.
func (b *Body) pushFront(item *Item) {
	item.prev = nil
	item.next = b.head
	if b.head != nil {
		b.head.prev = item
	} else {
		b.tail = item
	}
	b.head = item
	b.length++
}

// insertBefore places item immediately before at.
func (b *Body) insertBefore(at, item *Item) {
	if at == nil {
		b.pushBack(item)
		return
	}
	item.prev = at.prev
	item.next = at
	if at.prev != nil {
		at.prev.next = item
	} else {
		b.head = item
	}
	at.prev = item
	b.length++
}

// insertAfter places item immediately after at.
func (b *Body) insertAfter(at, item *Item) {
	if at == nil {
		b.pushFront(item)
		return
	}
	item.prev = at
	item.next = at.next
	if at.next != nil {
		at.next.prev = item
	} else {
		b.tail = item
	}
	at.next = item
	b.length++
}

// removeItem unlinks item from the sequence. The item must not be reused.
func (b *Body) removeItem(item *Item) {
	if item.prev != nil {
		item.prev.next = item.next
	} else {
		b.head = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	} else {
		b.tail = item.prev
	}
	item.prev = nil
	item.next = nil
	b.length--
}

// markDirty records a structural edit, invalidating any built CFG.
func (b *Body) markDirty() {
	b.gen++
}

// sortCaseTargets orders a switch's case target items by key. Used by
// sync when rebuilding payloads.
func sortCaseTargets(keys []int32, targets []*Item) {
	sort.Sort(&caseSorter{keys: keys, targets: targets})
}

type caseSorter struct {
	keys    []int32
	targets []*Item
}

func (s *caseSorter) Len() int           { return len(s.keys) }
func (s *caseSorter) Less(i, j int) bool { return s.keys[i] < s.keys[j] }
func (s *caseSorter) Swap(i, j int) {
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
	s.targets[i], s.targets[j] = s.targets[j], s.targets[i]
}

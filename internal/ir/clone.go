package ir

import "dexsmith/internal/dex"

// cloneItems deep-copies a run of items. Cross-references (branch targets,
// try markers, catch chains, fallthrough links) are remapped onto the
// clones; a reference leaving the run is a structural bug.
func cloneItems(from, until *Item) []*Item {
	mapping := make(map[*Item]*Item)
	markers := make(map[*TryMarker]*TryMarker)
	var out []*Item

	for it := from; it != until; it = it.next {
		c := &Item{Kind: it.Kind, Addr: it.Addr}
		switch it.Kind {
		case ItemInsn:
			c.Insn = it.Insn.Clone()
		case ItemTarget:
			t := *it.Target
			c.Target = &t
		case ItemTryStart, ItemTryEnd:
			m := markers[it.Try]
			if m == nil {
				copied := *it.Try
				m = &copied
				markers[it.Try] = m
			}
			c.Try = m
		case ItemCatch:
			cc := *it.Catch
			c.Catch = &cc
		case ItemPosition:
			c.Pos = it.Pos
		case ItemDebug:
			c.Note = it.Note
			c.Note.Blob = append([]byte(nil), it.Note.Blob...)
		case ItemFallthrough:
			c.Throwing = it.Throwing // remapped below
		}
		mapping[it] = c
		out = append(out, c)
	}

	remap := func(old *Item) *Item {
		if old == nil {
			return nil
		}
		if c, ok := mapping[old]; ok {
			return c
		}
		panic("ir: cloned item references an item outside the cloned run")
	}
	for _, c := range out {
		switch c.Kind {
		case ItemTarget:
			c.Target.Src = remap(c.Target.Src)
		case ItemCatch:
			c.Catch.Next = remap(c.Catch.Next)
		case ItemFallthrough:
			c.Throwing = remap(c.Throwing)
		}
	}
	for _, m := range markers {
		m.CatchStart = remap(m.CatchStart)
	}
	return out
}

// Clone returns an independent deep copy of the body, including its
// fill-array payloads. The copy starts with no CFG.
func (b *Body) Clone() *Body {
	out := &Body{
		Registers: b.Registers,
		Ins:       b.Ins,
		Outs:      b.Outs,
		arrayData: make(map[*dex.Insn]*dex.FillArrayPayload),
	}
	clones := cloneItems(b.head, nil)
	// Array payloads are keyed by instruction; rebuild the table against
	// the cloned instructions.
	origIdx := make(map[*dex.Insn]int)
	idx := 0
	for it := b.head; it != nil; it = it.next {
		if it.Kind == ItemInsn {
			origIdx[it.Insn] = idx
		}
		idx++
	}
	for _, c := range clones {
		out.pushBack(c)
	}
	for insn, payload := range b.arrayData {
		if i, ok := origIdx[insn]; ok {
			out.arrayData[clones[i].Insn] = payload.Clone()
		}
	}
	return out
}

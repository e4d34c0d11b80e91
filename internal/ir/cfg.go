package ir

import (
	"fmt"

	"dexsmith/internal/dex"
)

// Block is one basic block of a built CFG: a contiguous run of items with
// a single entry and a single exit.
type Block struct {
	id    int
	items []*Item
	preds []*Block
	succs []*Block
}

// ID returns the block's index in construction order.
func (bb *Block) ID() int { return bb.id }

// Items returns the block's items in order.
func (bb *Block) Items() []*Item { return bb.items }

// Preds returns the predecessor blocks.
func (bb *Block) Preds() []*Block { return bb.preds }

// Succs returns the successor blocks.
func (bb *Block) Succs() []*Block { return bb.succs }

// FirstInsn returns the block's first instruction item, or nil.
func (bb *Block) FirstInsn() *Item {
	for _, it := range bb.items {
		if it.Kind == ItemInsn {
			return it
		}
	}
	return nil
}

// LastInsn returns the block's last instruction item, or nil.
func (bb *Block) LastInsn() *Item {
	for i := len(bb.items) - 1; i >= 0; i-- {
		if bb.items[i].Kind == ItemInsn {
			return bb.items[i]
		}
	}
	return nil
}

// Graph is a derived view over a Body's items. It records the body
// generation it was built from; any structural edit makes it stale and
// graph accessors panic until it is rebuilt.
type Graph struct {
	blocks []*Block
	entry  *Block
	gen    uint64
}

// Blocks returns every block in construction order.
func (g *Graph) Blocks() []*Block { return g.blocks }

// Entry returns the entry block.
func (g *Graph) Entry() *Block { return g.entry }

// CFG returns the built control-flow graph. It panics when no graph has
// been built or a structural edit has made the graph stale.
func (b *Body) CFG() *Graph {
	if b.cfg == nil {
		panic("ir: CFG requested before BuildCFG")
	}
	if b.cfg.gen != b.gen {
		panic("ir: CFG is stale; rebuild after structural edits")
	}
	return b.cfg
}

// HasFreshCFG reports whether a current graph is available.
func (b *Body) HasFreshCFG() bool {
	return b.cfg != nil && b.cfg.gen == b.gen
}

// BuildCFG partitions the item sequence into basic blocks and links
// fallthrough, branch and exception edges.
//
// With endBlockBeforeThrow (the default everywhere but the tail-call
// inliner), a potentially-throwing instruction starts its own block and
// the exceptional edge leaves the preceding block through the fallthrough
// marker, so no definition made by the throwing instruction is visible on
// the exceptional path. In legacy mode the throwing instruction ends its
// block instead.
func (b *Body) BuildCFG(endBlockBeforeThrow bool) *Graph {
	g := &Graph{gen: b.gen}

	// Split into blocks.
	var cur *Block
	newBlock := func() *Block {
		bb := &Block{id: len(g.blocks)}
		g.blocks = append(g.blocks, bb)
		return bb
	}
	endAfter := false
	for it := b.head; it != nil; it = it.next {
		startsBlock := it.Kind == ItemTarget || it.Kind == ItemCatch ||
			it.Kind == ItemTryStart || it.Kind == ItemTryEnd
		if endBlockBeforeThrow && it.Kind == ItemInsn && it.prev != nil &&
			it.prev.Kind == ItemFallthrough && it.prev.Throwing == it {
			startsBlock = true
		}
		if cur == nil || endAfter || startsBlock {
			cur = newBlock()
			endAfter = false
		}
		cur.items = append(cur.items, it)
		if it.Kind == ItemInsn {
			op := it.Insn.Opcode()
			if dex.IsBranch(op) || dex.EndsBlock(op) {
				endAfter = true
			}
			if !endBlockBeforeThrow && dex.MayThrow(op) {
				endAfter = true
			}
		}
	}
	if len(g.blocks) == 0 {
		g.blocks = append(g.blocks, newBlock())
	}
	g.entry = g.blocks[0]

	// Index block membership for edge construction.
	blockOf := make(map[*Item]*Block, b.length)
	for _, bb := range g.blocks {
		for _, it := range bb.items {
			blockOf[it] = bb
		}
	}

	addEdge := func(from, to *Block) {
		for _, s := range from.succs {
			if s == to {
				return
			}
		}
		from.succs = append(from.succs, to)
		to.preds = append(to.preds, from)
	}

	// Fallthrough edges between adjacent blocks.
	for i, bb := range g.blocks {
		if i+1 >= len(g.blocks) {
			break
		}
		last := bb.LastInsn()
		if last != nil {
			op := last.Insn.Opcode()
			if dex.EndsBlock(op) {
				continue
			}
		}
		addEdge(bb, g.blocks[i+1])
	}

	// Branch edges through target markers.
	for _, bb := range g.blocks {
		for _, it := range bb.items {
			if it.Kind != ItemTarget {
				continue
			}
			src := blockOf[it.Target.Src]
			if src == nil {
				panic(fmt.Sprintf("ir: target at %d has no source block", it.Addr))
			}
			addEdge(src, bb)
		}
	}

	// Exception edges: any block that can raise inside a try region gets
	// an edge to every handler in the chain.
	var activeCatch *Item
	for _, bb := range g.blocks {
		canThrow := false
		for _, it := range bb.items {
			switch it.Kind {
			case ItemTryStart:
				activeCatch = it.Try.CatchStart
			case ItemTryEnd:
				activeCatch = nil
			case ItemFallthrough:
				if endBlockBeforeThrow && it.Throwing != nil {
					canThrow = true
				}
			case ItemInsn:
				if !endBlockBeforeThrow && dex.MayThrow(it.Insn.Opcode()) {
					canThrow = true
				}
			}
		}
		if canThrow && activeCatch != nil {
			for c := activeCatch; c != nil; c = c.Catch.Next {
				handler := blockOf[c]
				if handler == nil {
					panic("ir: catch marker outside the item sequence")
				}
				addEdge(bb, handler)
			}
		}
	}

	b.cfg = g
	return g
}

// Postorder returns the graph's blocks in depth-first postorder from the
// entry block. Unreachable blocks are appended at the end.
func (g *Graph) Postorder() []*Block {
	seen := make(map[*Block]bool, len(g.blocks))
	var out []*Block
	var visit func(*Block)
	visit = func(bb *Block) {
		if seen[bb] {
			return
		}
		seen[bb] = true
		for _, s := range bb.succs {
			visit(s)
		}
		out = append(out, bb)
	}
	visit(g.entry)
	for _, bb := range g.blocks {
		if !seen[bb] {
			visit(bb)
		}
	}
	return out
}

// ReversePostorder returns the blocks in reverse postorder, the iteration
// order that makes forward dataflow converge fastest.
func (g *Graph) ReversePostorder() []*Block {
	post := g.Postorder()
	out := make([]*Block, len(post))
	for i, bb := range post {
		out[len(post)-1-i] = bb
	}
	return out
}

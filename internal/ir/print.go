package ir

import (
	"fmt"
	"strings"

	"dexsmith/internal/dex"
)

// Format renders the item sequence as a one-instruction-per-line listing.
// Branch destinations are shown as :Ln labels. A non-nil pool resolves
// symbol references to names.
func (b *Body) Format(pool *dex.Pool) string {
	labels := make(map[*Item]string)
	bySrc := make(map[*Item][]*Item)
	n := 0
	for it := b.head; it != nil; it = it.next {
		if it.Kind == ItemTarget {
			labels[it] = fmt.Sprintf(":L%d", n)
			n++
			bySrc[it.Target.Src] = append(bySrc[it.Target.Src], it)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "registers=%d ins=%d outs=%d\n", b.Registers, b.Ins, b.Outs)
	for it := b.head; it != nil; it = it.next {
		switch it.Kind {
		case ItemInsn:
			sb.WriteString("  ")
			sb.WriteString(formatInsn(it.Insn, pool))
			if targets := bySrc[it]; targets != nil {
				for i, t := range targets {
					if i > 0 {
						sb.WriteString(",")
					}
					sb.WriteString(" -> ")
					sb.WriteString(labels[t])
					if t.Target.Kind == TargetCase {
						fmt.Fprintf(&sb, " (case %d)", t.Target.CaseKey)
					}
				}
			}
			if it.Insn.Opcode() == dex.OpFillArrayData {
				if p := b.arrayData[it.Insn]; p != nil {
					fmt.Fprintf(&sb, " // %d elems x %d bytes", p.Count, p.ElemWidth)
				}
			}
			sb.WriteString("\n")
		case ItemTarget:
			sb.WriteString(labels[it])
			sb.WriteString("\n")
		case ItemTryStart:
			sb.WriteString(".try_start\n")
		case ItemTryEnd:
			sb.WriteString(".try_end\n")
		case ItemCatch:
			if it.Catch.CatchAll {
				sb.WriteString(".catchall\n")
			} else if pool != nil {
				fmt.Fprintf(&sb, ".catch %s\n", pool.Descriptor(it.Catch.Type))
			} else {
				fmt.Fprintf(&sb, ".catch type@%d\n", it.Catch.Type)
			}
		case ItemPosition:
			fmt.Fprintf(&sb, ".line %d\n", it.Pos.Line)
		case ItemDebug:
			fmt.Fprintf(&sb, ".debug %d\n", len(it.Note.Blob))
		case ItemFallthrough:
			// Noise in a listing; the guarded instruction follows anyway.
		}
	}
	return sb.String()
}

// formatInsn renders one instruction with its operands.
func formatInsn(insn *dex.Insn, pool *dex.Pool) string {
	var sb strings.Builder
	sb.WriteString(insn.String())

	var ops []string
	if insn.HasDest() {
		ops = append(ops, fmt.Sprintf("v%d", insn.Dest()))
	}
	start := 0
	if insn.DestIsSrc0() {
		start = 1 // already printed as the destination
	}
	if dex.IsInvoke(insn.Opcode()) {
		args := make([]string, 0, insn.SrcCount())
		for i := 0; i < insn.SrcCount(); i++ {
			args = append(args, fmt.Sprintf("v%d", insn.Src(i)))
		}
		ops = append(ops, "{"+strings.Join(args, ", ")+"}")
	} else {
		for i := start; i < insn.SrcCount(); i++ {
			ops = append(ops, fmt.Sprintf("v%d", insn.Src(i)))
		}
	}
	if insn.HasLiteral() {
		ops = append(ops, fmt.Sprintf("#%d", insn.Literal()))
	}
	if ref := formatRef(insn, pool); ref != "" {
		ops = append(ops, ref)
	}
	if len(ops) > 0 {
		sb.WriteString(" ")
		sb.WriteString(strings.Join(ops, ", "))
	}
	return sb.String()
}

func formatRef(insn *dex.Insn, pool *dex.Pool) string {
	switch insn.RefKind() {
	case dex.RefString:
		if pool != nil {
			return fmt.Sprintf("%q", pool.StringVal(insn.StringRef()))
		}
		return fmt.Sprintf("string@%d", insn.StringRef())
	case dex.RefType:
		if pool != nil {
			return pool.Descriptor(insn.TypeRef())
		}
		return fmt.Sprintf("type@%d", insn.TypeRef())
	case dex.RefField:
		if pool != nil {
			f := pool.FieldDef(insn.FieldRef())
			return fmt.Sprintf("%s->%s", pool.Descriptor(f.Class), pool.StringVal(f.Name))
		}
		return fmt.Sprintf("field@%d", insn.FieldRef())
	case dex.RefMethod:
		if pool != nil {
			m := pool.MethodDef(insn.MethodRef())
			return fmt.Sprintf("%s->%s", pool.Descriptor(m.Class), pool.StringVal(m.Name))
		}
		return fmt.Sprintf("method@%d", insn.MethodRef())
	}
	return ""
}

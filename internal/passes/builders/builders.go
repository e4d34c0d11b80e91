// Package builders removes builder-pattern object churn. When a method
// constructs a builder, feeds it through setters, and calls build(), the
// pass inlines build() into the caller and then erases the builder
// object entirely: every read of a builder field is rewired to the
// register that last stored it, and the construction, the field traffic
// and the constructor call are deleted.
//
// The pass is conservative. If the instance can escape the method, if
// build() is called more than once, or if the analyses cannot pin a
// field read to exactly one register on every path, the method is left
// bit-identical to how it was found.
package builders

import (
	"context"
	"fmt"
	"strings"

	"dexsmith/internal/dataflow"
	"dexsmith/internal/dex"
	"dexsmith/internal/diag"
	"dexsmith/internal/ir"
	"dexsmith/internal/passes"
	"dexsmith/internal/trace"
)

func init() {
	passes.Register(&removeBuilders{})
}

type removeBuilders struct{}

func (*removeBuilders) Name() string { return "builders" }

// target is one builder class the pass will try to erase from callers.
type target struct {
	class *dex.Class
	build *dex.Method
}

func (p *removeBuilders) Run(ctx context.Context, pc *passes.Context) error {
	cfg := pc.Config.Passes.Builders
	pool := pc.Scope.Pool

	var targets []*target
	for _, c := range pc.Scope.Classes {
		desc := pool.Descriptor(c.Type)
		if !strings.HasSuffix(desc, cfg.Suffix) || blocked(desc, cfg.Blocklist) {
			continue
		}
		build := c.FindVirtual(pool, "build")
		if build == nil || build.Code == nil {
			continue
		}
		targets = append(targets, &target{class: c, build: build})
	}
	if len(targets) == 0 {
		return nil
	}

	var err error
	pc.Scope.EachMethod(func(cls *dex.Class, m *dex.Method) {
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return
		default:
		}
		for _, t := range targets {
			if cls.Type == t.class.Type {
				continue // never rewrite the builder's own methods
			}
			body := pc.BodyOf(m)
			if body == nil || !constructs(body, t.class.Type) {
				continue
			}
			p.rewrite(pc, cls, m, t)
		}
	})
	return err
}

func blocked(desc string, blocklist []string) bool {
	for _, b := range blocklist {
		if desc == b {
			return true
		}
	}
	return false
}

// constructs reports whether the body allocates an instance of typ.
func constructs(body *ir.Body, typ dex.TypeID) bool {
	for _, it := range body.Insns() {
		insn := it.Insn
		if insn.Opcode() == dex.OpNewInstance && insn.TypeRef() == typ {
			return true
		}
	}
	return false
}

// rewrite erases one builder from one method. Any bail-out restores the
// pre-edit body, so a partially rewritten method never reaches sync.
func (p *removeBuilders) rewrite(pc *passes.Context, cls *dex.Class, m *dex.Method, t *target) {
	pool := pc.Scope.Pool
	site := diag.MethodSite(pool.Descriptor(cls.Type), pool.MethodName(m.ID))
	builderDesc := pool.Descriptor(t.class.Type)
	cfg := pc.Config.Passes.Builders

	body := pc.BodyOf(m)
	snapshot := body.Clone()
	legacy := pc.Config.Optimize.LegacyCFG
	body.BuildCFG(!legacy)

	if escapes(body, pool, t.class.Type) {
		diag.ReportInfo(pc.Report, diag.PassBuilderEscapes, site,
			fmt.Sprintf("%s escapes the method, builder kept", builderDesc)).Emit()
		return
	}

	var invokes []*dex.Insn
	for _, it := range body.Insns() {
		insn := it.Insn
		if dex.IsInvoke(insn.Opcode()) && insn.MethodRef() == t.build.ID {
			invokes = append(invokes, insn)
		}
	}
	if len(invokes) > 1 {
		diag.ReportWarning(pc.Report, diag.PassBuilderMultipleSites, site,
			fmt.Sprintf("%s.build() called %d times, builder kept", builderDesc, len(invokes))).Emit()
		return
	}

	if len(invokes) == 1 {
		callee := pc.BodyOf(t.build)
		if callee == nil {
			return
		}
		if cfg.MaxInlineSize > 0 && callee.SumOpcodeSizes() > cfg.MaxInlineSize {
			diag.ReportInfo(pc.Report, diag.PassBudgetExceeded, site,
				fmt.Sprintf("%s.build() is %d units, over the inline limit", builderDesc, callee.SumOpcodeSizes())).Emit()
			return
		}
		ictx := ir.NewInlineContext(body, cfg.UseLiveness)
		if err := ir.Inline16Regs(ictx, callee, invokes[0]); err != nil {
			pc.Restore(m, snapshot)
			diag.ReportWarning(pc.Report, diag.PassInlineTooManyRegs, site,
				fmt.Sprintf("cannot inline %s.build(): %v", builderDesc, err)).Emit()
			return
		}
		body.BuildCFG(!legacy)
	}

	if ok, code, msg := p.erase(pc, body, t); !ok {
		pc.Restore(m, snapshot)
		diag.ReportWarning(pc.Report, code, site, msg).Emit()
		return
	}

	span := trace.Begin(pc.Tracer, trace.ScopeMethod, "builders.rewrite", 0)
	span.End(site.String())
}

// erase runs the field-tracking analyses and performs the deletion and
// operand rewrites. On any analysis disagreement it reports failure
// without touching the body beyond what the caller will roll back.
func (p *removeBuilders) erase(pc *passes.Context, body *ir.Body, t *target) (bool, diag.Code, string) {
	pool := pc.Scope.Pool
	builder := t.class.Type
	fields := t.class.IFields

	setters := dataflow.Forward[FieldsRegs](body.CFG(), fieldsProblem{
		pool: pool, builder: builder, fields: fields, setter: true,
	})
	getters := dataflow.Forward[FieldsRegs](body.CFG(), fieldsProblem{
		pool: pool, builder: builder, fields: fields, setter: false,
	})

	var deletes []*dex.Insn
	type operand struct {
		insn  *dex.Insn
		index int
	}
	type replacement struct {
		operand
		reg uint16
	}
	var replacements []replacement
	var undefined []operand

	for _, it := range body.Insns() {
		insn := it.Insn
		op := insn.Opcode()
		switch {
		case dex.IsIput(op) || dex.IsIget(op):
			if pool.FieldDef(insn.FieldRef()).Class == builder {
				deletes = append(deletes, insn)
				continue
			}
		case op == dex.OpNewInstance:
			if insn.TypeRef() == builder {
				deletes = append(deletes, insn)
				continue
			}
		case dex.IsInvoke(op):
			def := pool.MethodDef(insn.MethodRef())
			if def.Class == builder {
				name := pool.MethodName(insn.MethodRef())
				if name == "<init>" {
					deletes = append(deletes, insn)
					continue
				}
				// A builder method still in call form would keep using
				// the instance after its allocation is deleted.
				return false, diag.PassInlineNotApplicable, fmt.Sprintf(
					"call to %s.%s survives at %04x, builder kept",
					pool.Descriptor(builder), name, it.Addr)
			}
		}

		in, out := setters.Before[it], getters.Before[it]
		if in == nil || out == nil {
			continue // unreachable
		}
		for index := 0; index < insn.SrcCount(); index++ {
			cur := int32(insn.Src(index))
			for _, f := range fields {
				if out[f] != cur {
					continue
				}
				switch stored := in[f]; {
				case stored >= 0:
					replacements = append(replacements, replacement{operand{insn, index}, uint16(stored)})
				case stored == regUndefined:
					undefined = append(undefined, operand{insn, index})
				default:
					return false, diag.PassRolledBack, fmt.Sprintf(
						"field %s has no single register at %04x, builder kept",
						pool.FieldName(f), it.Addr)
				}
			}
		}
	}

	// Reads of never-written fields become reads of a fresh zero
	// register. The frame grows by one below the inputs, which shifts
	// every input register up by one.
	if len(undefined) > 0 {
		nonInput := body.Registers - body.Ins
		if err := body.EnlargeRegs(int(body.Registers) + 1); err != nil {
			return false, diag.PassBuilderFieldUndefined, fmt.Sprintf(
				"cannot widen frame for default field value: %v", err)
		}
		body.InsertAfter(nil, []*dex.Insn{newZero(nonInput)})
		for i := range replacements {
			if replacements[i].reg >= nonInput {
				replacements[i].reg++
			}
		}
		for _, u := range undefined {
			replacements = append(replacements, replacement{u, nonInput})
		}
	}

	for _, insn := range deletes {
		body.RemoveOpcode(insn)
	}
	for _, r := range replacements {
		r.insn.SetSrc(r.index, r.reg)
	}
	return true, 0, ""
}

// newZero materializes integer zero into reg, picking the narrowest
// encoding the register number allows.
func newZero(reg uint16) *dex.Insn {
	if reg <= 0xf {
		return dex.NewConst4(reg, 0)
	}
	insn := dex.NewInsn(dex.OpConst16)
	insn.SetDest(reg)
	return insn
}

package diag

import (
	"testing"
)

func TestBagLimitAndMerge(t *testing.T) {
	b := NewBag(2)
	if !b.Add(Diagnostic{Severity: SevWarning, Code: PassSkippedMethod}) {
		t.Fatal("first add rejected")
	}
	if !b.Add(Diagnostic{Severity: SevError, Code: CodeBadOpcode}) {
		t.Fatal("second add rejected")
	}
	if b.Add(Diagnostic{Severity: SevError, Code: CodeBadOpcode}) {
		t.Error("add beyond the limit succeeded")
	}
	if !b.HasErrors() || !b.HasWarnings() {
		t.Error("severity queries lost diagnostics")
	}

	other := NewBag(2)
	other.Add(Diagnostic{Severity: SevInfo, Code: ObsTimings})
	b.Merge(other)
	if b.Len() != 3 {
		t.Errorf("merged len = %d, want 3 (merge must raise the limit)", b.Len())
	}
}

func TestBagSortIsDeterministic(t *testing.T) {
	b := NewBag(10)
	b.Add(Diagnostic{Severity: SevInfo, Code: PassInfo, Primary: MethodSite("LB;", "run").At(4)})
	b.Add(Diagnostic{Severity: SevError, Code: CodeBadOpcode, Primary: MethodSite("LA;", "run").At(2)})
	b.Add(Diagnostic{Severity: SevWarning, Code: PassSkippedMethod, Primary: MethodSite("LA;", "run").At(2)})
	b.Sort()

	items := b.Items()
	if items[0].Code != CodeBadOpcode {
		t.Errorf("first after sort = %v, want the error at LA;->run@0002", items[0].Code)
	}
	if items[1].Code != PassSkippedMethod {
		t.Errorf("second after sort = %v, want the warning at the same site", items[1].Code)
	}
	if items[2].Primary.Class != "LB;" {
		t.Errorf("third after sort = %v, want the LB; entry", items[2].Primary)
	}
}

func TestDedupReporterSuppressesRepeats(t *testing.T) {
	bag := NewBag(10)
	r := NewDedupReporter(BagReporter{Bag: bag})

	site := MethodSite("LFoo;", "build")
	r.Report(PassBuilderEscapes, SevWarning, site, "escapes via return", nil)
	r.Report(PassBuilderEscapes, SevWarning, site, "escapes via return", nil)
	r.Report(PassBuilderEscapes, SevWarning, site.At(8), "escapes via return", nil)

	if bag.Len() != 2 {
		t.Errorf("bag holds %d diagnostics, want 2 (exact repeat dropped)", bag.Len())
	}
}

func TestReportBuilderEmitsOnce(t *testing.T) {
	bag := NewBag(10)
	b := ReportError(BagReporter{Bag: bag}, DrvUnknownPass, Site{Addr: NoAddr}, "no such pass \"foo\"").
		WithNote(Site{Addr: NoAddr}, "known passes: builders")
	b.Emit()
	b.Emit()

	if bag.Len() != 1 {
		t.Fatalf("bag holds %d diagnostics, want 1", bag.Len())
	}
	d := bag.Items()[0]
	if len(d.Notes) != 1 {
		t.Errorf("notes = %d, want 1", len(d.Notes))
	}
}

func TestFormatDiagnostics(t *testing.T) {
	diags := []Diagnostic{
		{
			Severity: SevError,
			Code:     CodeBadOpcode,
			Message:  "first line\nsecond",
			Primary:  MethodSite("LFoo;", "run").At(2),
			Notes: []Note{
				{Site: MethodSite("LFoo;", "run"), Msg: "while verifying"},
			},
		},
		{
			Severity: SevWarning,
			Code:     PassSkippedMethod,
			Message:  "another",
			Primary:  MethodSite("LBar;", "go"),
		},
	}

	expected := "warning OPT3001 LBar;->go another\n" +
		"note COD2001 LFoo;->run while verifying\n" +
		"error COD2001 LFoo;->run@0002 first line second"

	if got := FormatDiagnostics(diags, true); got != expected {
		t.Fatalf("unexpected rendering:\nwant:\n%s\n\ngot:\n%s", expected, got)
	}
}

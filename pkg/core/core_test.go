package core

import (
	"bytes"
	"context"
	"testing"
)

func TestScan_Smoke(t *testing.T) {
	rep, err := Scan(context.Background(), Config{Root: t.TempDir(), NoCache: true})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if rep.FilesScanned != 0 || len(rep.Findings) != 0 {
		t.Fatalf("expected an empty report, got %+v", rep)
	}
	ids, err := RuleIDs(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) == 0 {
		t.Fatal("expected builtin rules")
	}
}

func TestScanSourcesAndJSON(t *testing.T) {
	files := map[string][]byte{
		"hello.js": []byte("app.get('/', (req, res) => { res.send(req.query.name) })\n"),
	}
	rep, err := ScanSources(context.Background(), Config{EnableRules: "reflected-xss"}, files)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Findings) != 1 || rep.Findings[0].RuleID != "reflected-xss" {
		t.Fatalf("unexpected findings: %+v", rep.Findings)
	}

	var buf bytes.Buffer
	if err := MarshalFindings(&buf, rep.Findings); err != nil {
		t.Fatal(err)
	}
	back, err := UnmarshalFindings(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != 1 || back[0].Severity != rep.Findings[0].Severity {
		t.Fatalf("round trip lost data: %+v", back)
	}
}

func TestDiff(t *testing.T) {
	before := map[string][]byte{"a.js": []byte("app.get('/', (req, res) => { res.send(req.query.name) })\n")}
	after := map[string][]byte{"a.js": []byte("app.get('/', (req, res) => { res.send(escapeHtml(req.query.name)) })\n")}
	cmp, err := Diff(context.Background(), Config{EnableRules: "reflected-xss"}, before, after)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Clean() || len(cmp.Diff.Verified) != 1 {
		t.Fatalf("expected a verified remediation, got %+v", cmp.Diff)
	}
}

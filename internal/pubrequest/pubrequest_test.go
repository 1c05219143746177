package pubrequest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsEmptyObject(t *testing.T) {
	req := Load(t.TempDir())
	if req.Payload != "{}" {
		t.Fatalf("expected {}, got %q", req.Payload)
	}
	res := Validate(req)
	if !res.OK {
		t.Fatalf("empty-object payload must validate: %+v", res.Err)
	}
}

func TestLoadReadsManifest(t *testing.T) {
	dir := t.TempDir()
	content := `{"package-id":"hl7.fhir.au.base","mode":"milestone"}`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	req := Load(dir)
	if req.Payload != content {
		t.Fatalf("payload mismatch: %q", req.Payload)
	}
	if res := Validate(req); !res.OK {
		t.Fatalf("valid manifest rejected: %+v", res.Err)
	}
}

func TestValidateTruncatedPayload(t *testing.T) {
	res := Validate(Request{Payload: `{"tool":"ig-publisher"`})
	if res.OK {
		t.Fatalf("truncated JSON must fail validation")
	}
	if res.Err == nil {
		t.Fatalf("expected syntax error")
	}
	if res.Err.Offset <= 0 {
		t.Fatalf("syntax error must carry a position, got %d", res.Err.Offset)
	}
}

func TestValidateRejectsTrailingContent(t *testing.T) {
	res := Validate(Request{Payload: `{} {"extra":true}`})
	if res.OK {
		t.Fatalf("trailing content must fail validation")
	}
	if res.Err.Offset <= 0 {
		t.Fatalf("expected position for trailing content")
	}
}

func TestValidateBadToken(t *testing.T) {
	res := Validate(Request{Payload: `{"a":}`})
	if res.OK || res.Err == nil {
		t.Fatalf("expected syntax error")
	}
	if res.Err.Offset <= 0 {
		t.Fatalf("expected non-null offset")
	}
}

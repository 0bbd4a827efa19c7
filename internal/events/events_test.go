package events

import (
	"testing"
)

func TestParseWireLineSetsPluginAndTimestamp(t *testing.T) {
	e, err := ParseWireLine("apt", []byte(`{"type":"progress","phase":"download","percent":42}`))
	if err != nil {
		t.Fatalf("ParseWireLine failed: %v", err)
	}
	if e.Plugin != "apt" {
		t.Fatalf("expected plugin to be overridden to %q, got %q", "apt", e.Plugin)
	}
	if e.Timestamp.IsZero() {
		t.Fatal("expected a timestamp to be assigned when the wire payload omits one")
	}
	if e.Type != TypeProgress || e.Phase != "download" || e.Percent == nil || *e.Percent != 42 {
		t.Fatalf("unexpected decoded event: %+v", e)
	}
}

func TestParseWireLineRejectsInvalidJSON(t *testing.T) {
	if _, err := ParseWireLine("apt", []byte("not json")); err == nil {
		t.Fatal("expected an error for malformed payload")
	}
}

func TestParseWireLinePreservesUnknownType(t *testing.T) {
	e, err := ParseWireLine("apt", []byte(`{"type":"future_event"}`))
	if err != nil {
		t.Fatalf("ParseWireLine failed: %v", err)
	}
	if e.Type != "future_event" {
		t.Fatalf("expected unknown type to be preserved, got %q", e.Type)
	}
}

func TestCompletionIsTerminal(t *testing.T) {
	c := Completion("apt", true, 0, "")
	if !c.IsTerminal() {
		t.Fatal("expected a Completion event to be terminal")
	}
	o := Output("apt", StreamStdout, "line")
	if o.IsTerminal() {
		t.Fatal("expected an Output event to not be terminal")
	}
}

func TestMarshalLineRoundTrips(t *testing.T) {
	e := Progress("apt", PhaseDownload, nil, "fetching")
	data, err := e.MarshalLine()
	if err != nil {
		t.Fatalf("MarshalLine failed: %v", err)
	}
	parsed, err := ParseWireLine("apt", data)
	if err != nil {
		t.Fatalf("ParseWireLine of marshaled line failed: %v", err)
	}
	if parsed.Message != "fetching" || parsed.Phase != PhaseDownload {
		t.Fatalf("round trip lost data: %+v", parsed)
	}
}

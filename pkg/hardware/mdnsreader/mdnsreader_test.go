package mdnsreader

import "testing"

func TestTXTValue(t *testing.T) {
	txt := []string{"serial=RDR-001", "label=Front Desk", "model=CR-7"}

	if got := txtValue(txt, "serial"); got != "RDR-001" {
		t.Errorf("serial = %q, want RDR-001", got)
	}
	if got := txtValue(txt, "label"); got != "Front Desk" {
		t.Errorf("label = %q, want Front Desk", got)
	}
	if got := txtValue(txt, "firmware"); got != "" {
		t.Errorf("missing key = %q, want empty", got)
	}
	// A key must match exactly, not as a prefix of another key.
	if got := txtValue([]string{"serials=x"}, "serial"); got != "" {
		t.Errorf("prefix key = %q, want empty", got)
	}
}

func TestNewDefaults(t *testing.T) {
	a := New(Config{})
	if a.scanWindow != DefaultScanWindow {
		t.Errorf("scanWindow = %v, want %v", a.scanWindow, DefaultScanWindow)
	}
	if a.logger == nil {
		t.Error("logger should default to a discard logger")
	}
}

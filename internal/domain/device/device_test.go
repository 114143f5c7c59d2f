package device

import "testing"

func TestStableID(t *testing.T) {
	a := StableID("Living Room", "192.168.1.20")
	if a != StableID("Living Room", "192.168.1.20") {
		t.Error("expected the same id for the same name and address")
	}
	if a == StableID("Living Room", "192.168.1.21") {
		t.Error("expected a different id for a different address")
	}
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
}

func TestDevice_Addr(t *testing.T) {
	d := New("Kitchen", "", "10.0.0.5", 2019)
	if d.Addr() != "10.0.0.5:2019" {
		t.Errorf("unexpected addr %s", d.Addr())
	}
	if d.ID != StableID("Kitchen", "10.0.0.5") {
		t.Errorf("unexpected id %s", d.ID)
	}
}

func TestEventKind_String(t *testing.T) {
	if Up.String() != "up" || Down.String() != "down" {
		t.Errorf("unexpected names %s %s", Up, Down)
	}
}

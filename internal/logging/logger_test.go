package logging

import "testing"

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "warn", "error"} {
		if _, err := New(level); err != nil {
			t.Errorf("New(%q) returned error: %v", level, err)
		}
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSetGlobal(t *testing.T) {
	orig := Global()
	defer SetGlobal(orig)

	l, err := New("debug")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	SetGlobal(l)
	if Global() != l {
		t.Error("Global did not return the logger set via SetGlobal")
	}
}

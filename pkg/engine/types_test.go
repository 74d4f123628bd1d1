package engine

import "testing"

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in   string
		kind SelectorKind
		want string
	}{
		{"3.12", SelectorVersionConstraint, "3.12"},
		{"3.13.3", SelectorVersionConstraint, "3.13.3"},
		{">=3.10,<3.12", SelectorVersionConstraint, ">=3.10,<3.12"},
		{"/usr/bin/python3", SelectorExplicitPath, "/usr/bin/python3"},
		{`C:\Python312\python.exe`, SelectorExplicitPath, `C:\Python312\python.exe`},
		{"", SelectorVersionConstraint, "*"},
		{"  3.11  ", SelectorVersionConstraint, "3.11"},
	}

	for _, tt := range tests {
		got := ParseSelector(tt.in)
		if got.Kind != tt.kind || got.Value != tt.want {
			t.Errorf("ParseSelector(%q) = {%s %q}, want {%s %q}",
				tt.in, got.Kind, got.Value, tt.kind, tt.want)
		}
	}
}

func TestStateMachineTransitions(t *testing.T) {
	valid := []struct{ from, to KernelState }{
		{StateCreated, StateLaunching},
		{StateLaunching, StateRunning},
		{StateLaunching, StateCrashed},
		{StateRunning, StateShuttingDown},
		{StateRunning, StateCrashed},
		{StateShuttingDown, StateTerminated},
		{StateShuttingDown, StateCrashed},
		{StateCrashed, StateTerminated},
	}
	for _, tt := range valid {
		if !tt.from.CanTransition(tt.to) {
			t.Errorf("expected %s -> %s to be valid", tt.from, tt.to)
		}
	}

	invalid := []struct{ from, to KernelState }{
		{StateCreated, StateRunning},
		{StateCreated, StateTerminated},
		{StateRunning, StateTerminated},
		{StateTerminated, StateLaunching},
		{StateTerminated, StateCreated},
		{StateCrashed, StateRunning},
	}
	for _, tt := range invalid {
		if tt.from.CanTransition(tt.to) {
			t.Errorf("expected %s -> %s to be rejected", tt.from, tt.to)
		}
	}

	if !StateTerminated.IsTerminal() {
		t.Error("Terminated must be terminal")
	}
	if StateCrashed.IsTerminal() {
		t.Error("Crashed is not terminal; it must still proceed to teardown")
	}
}

func TestNormalizeDistName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"numpy", "numpy"},
		{"NumPy", "numpy"},
		{"numpy>=1.26", "numpy"},
		{"ruamel.yaml", "ruamel-yaml"},
		{"typing_extensions==4.12.0", "typing-extensions"},
		{"pandas[excel]", "pandas"},
		{"requests ; python_version>='3.8'", "requests"},
	}
	for _, tt := range tests {
		if got := NormalizeDistName(tt.in); got != tt.want {
			t.Errorf("NormalizeDistName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHasDependency(t *testing.T) {
	env := &EphemeralEnvironment{
		Dependencies: []string{"numpy>=1.26", "pandas", "typing_extensions"},
	}

	if !env.HasDependency("numpy") {
		t.Error("expected numpy present")
	}
	if !env.HasDependency("NumPy==2.0") {
		t.Error("expected case/version-insensitive match")
	}
	if !env.HasDependency("typing-extensions") {
		t.Error("expected underscore/hyphen folding")
	}
	if env.HasDependency("scipy") {
		t.Error("did not expect scipy")
	}
}

package uvrun

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestParseInterpreterList(t *testing.T) {
	out := `[
		{"key": "cpython-3.11.2-linux-x86_64-gnu", "version": "3.11.2", "path": "/opt/python/3.11.2/bin/python3"},
		{"key": "cpython-3.10.4-linux-x86_64-gnu", "version": "3.10.4", "path": "/opt/python/3.10.4/bin/python3"},
		{"key": "cpython-3.13.0-linux-x86_64-gnu", "version": "3.13.0", "path": ""}
	]`

	handles, err := parseInterpreterList(out)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("got %d handles, want 2 (pathless entries skipped)", len(handles))
	}
	if handles[0].Version != "3.11.2" || handles[0].Path != "/opt/python/3.11.2/bin/python3" {
		t.Errorf("unexpected first handle: %+v", handles[0])
	}
}

func TestParseInterpreterListMalformed(t *testing.T) {
	if _, err := parseInterpreterList("not json"); err == nil {
		t.Fatal("expected error for malformed inventory output")
	}
}

func TestParseInterpreterListEmpty(t *testing.T) {
	handles, err := parseInterpreterList("[]")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(handles) != 0 {
		t.Errorf("got %d handles, want 0", len(handles))
	}
}

func TestPythonPath(t *testing.T) {
	root := filepath.Join("scratch", "uvk-env-1")
	got := PythonPath(root)
	if runtime.GOOS == "windows" {
		if got != filepath.Join(root, "Scripts", "python.exe") {
			t.Errorf("unexpected windows python path: %s", got)
		}
		return
	}
	if got != filepath.Join(root, "bin", "python") {
		t.Errorf("unexpected python path: %s", got)
	}
}

func TestResultCombined(t *testing.T) {
	tests := []struct {
		stdout, stderr, want string
	}{
		{"out", "err", "out\nerr"},
		{"out", "", "out"},
		{"", "err", "err"},
		{"", "", ""},
		{"out\n", "  err  ", "out\nerr"},
	}
	for _, tt := range tests {
		r := &result{stdout: tt.stdout, stderr: tt.stderr}
		if got := r.combined(); got != tt.want {
			t.Errorf("combined(%q, %q) = %q, want %q", tt.stdout, tt.stderr, got, tt.want)
		}
	}
}

package logger

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		json        bool
		expectError bool
	}{
		{name: "info_console", level: "info", json: false},
		{name: "debug_json", level: "debug", json: true},
		{name: "uppercase_level", level: "WARN", json: true},
		{name: "invalid_level", level: "verbose", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.level, tt.json)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for level '%s', but got nil", tt.level)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if log == nil {
				t.Fatal("expected logger, but got nil")
			}
		})
	}
}

func TestNewRespectsLevel(t *testing.T) {
	log, err := New("error", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.Core().Enabled(-1) {
		t.Error("debug level should be disabled for error logger")
	}
	if !log.Core().Enabled(2) {
		t.Error("error level should be enabled for error logger")
	}
}

package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFormatRow(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "short", key: "Language", value: "en-GB"},
		{name: "exactly cell width", key: "Server", value: strings.Repeat("a", 23)},
		{name: "long ascii", key: "Server", value: "https://broker.example.internal:8443/rooms/main"},
		{name: "long multibyte", key: "Device", value: "Microphone intégré très détaillé (même façon)"},
		{name: "multibyte at the cut", key: "Device", value: strings.Repeat("é", 30)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			row := formatRow(tc.key, tc.value)
			if !utf8.ValidString(row) {
				t.Fatalf("formatRow produced invalid UTF-8: %q", row)
			}
			if got := utf8.RuneCountInString(row); got != 45 {
				t.Errorf("row width = %d runes, want 45: %q", got, row)
			}
			if utf8.RuneCountInString(tc.value) > 23 && !strings.Contains(row, "…") {
				t.Errorf("long value not truncated with ellipsis: %q", row)
			}
		})
	}
}

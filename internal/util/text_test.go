package util

import (
	"testing"
	"time"
)

func TestSanitizePostgresText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain utf8",
			input: "hello world",
			want:  "hello world",
		},
		{
			name:  "contains null byte",
			input: "hel\x00lo",
			want:  "hello",
		},
		{
			name:  "contains invalid utf8",
			input: string([]byte{'a', 0xff, 'b'}),
			want:  "ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePostgresText(tt.input)
			if got != tt.want {
				t.Fatalf("unexpected sanitized value: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{"shorter", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"cut", "abcdef", 3, "abc"},
		{"multibyte", "éèêë", 2, "éè"},
		{"zero", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.n); got != tt.want {
				t.Fatalf("Truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
			}
		})
	}
}

func TestCollapseWhitespace(t *testing.T) {
	if got := CollapseWhitespace("  a \n\t b  c "); got != "a b c" {
		t.Fatalf("got %q", got)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("AGENTKG_TEST_INT", "12")
	t.Setenv("AGENTKG_TEST_BAD", "twelve")
	t.Setenv("AGENTKG_TEST_BOOL", "TRUE")
	t.Setenv("AGENTKG_TEST_DUR", "90s")
	t.Setenv("AGENTKG_TEST_EMPTY", "")

	if got := GetEnvInt("AGENTKG_TEST_INT", 3); got != 12 {
		t.Errorf("GetEnvInt = %d, want 12", got)
	}
	if got := GetEnvInt("AGENTKG_TEST_BAD", 3); got != 3 {
		t.Errorf("GetEnvInt malformed = %d, want 3", got)
	}
	if got := GetEnvBool("AGENTKG_TEST_BOOL", false); !got {
		t.Errorf("GetEnvBool = false, want true")
	}
	if got := GetEnvDuration("AGENTKG_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("GetEnvDuration = %v, want 90s", got)
	}
	if got := GetEnvString("AGENTKG_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Errorf("GetEnvString empty = %q, want fallback", got)
	}
	if got := GetEnv("AGENTKG_TEST_MISSING"); got != "" {
		t.Errorf("GetEnv missing = %q, want empty", got)
	}
}

package api

import "testing"

func TestSanitizeContent(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"markup untouched", `<script>alert("x")</script>`, `<script>alert("x")</script>`},
		{"newlines and tabs kept", "a\nb\r\nc\td", "a\nb\r\nc\td"},
		{"control chars stripped", "a\x00b\x07c\x1bd", "abcd"},
		{"delete char stripped", "a\x7fb", "ab"},
		{"unicode kept", "héllo wörld ✓", "héllo wörld ✓"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeContent(tc.in); got != tc.want {
				t.Errorf("sanitizeContent(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeContentNormalizes(t *testing.T) {
	// e + combining acute collapses to the precomposed form.
	in := "é"
	if got := sanitizeContent(in); got != "é" {
		t.Errorf("sanitizeContent(%q) = %q, want %q", in, got, "é")
	}
}

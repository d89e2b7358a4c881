package change

import "testing"

func TestParseKind(t *testing.T) {
	valid := []string{"create", "modify", "delete", "rename"}
	for _, s := range valid {
		k, err := ParseKind(s)
		if err != nil {
			t.Errorf("ParseKind(%q): %v", s, err)
		}
		if string(k) != s {
			t.Errorf("ParseKind(%q) = %q", s, k)
		}
	}

	for _, s := range []string{"", "touch", "MODIFY", "removed"} {
		if _, err := ParseKind(s); err == nil {
			t.Errorf("ParseKind(%q) succeeded, want error", s)
		}
	}
}

package profile

import "testing"

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work", "my-profile", "user_2", "a"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "UPPER", "has space", "dot.name", "x/y", "абв"}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestPathsAreUnderProfileDir(t *testing.T) {
	dir := Dir("main")
	for _, p := range []string{DBPath("main"), TokenPath("main"), LogPath("main")} {
		if len(p) <= len(dir) || p[:len(dir)] != dir {
			t.Errorf("path %q not under profile dir %q", p, dir)
		}
	}
}

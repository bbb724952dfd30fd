package slug

import "testing"

func TestNew_WellFormed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		s, err := New()
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if !Valid(s) {
			t.Fatalf("Generated slug %q is not valid", s)
		}
		seen[s] = true
	}
	// 1000 draws from ~916M combinations: collisions here mean broken entropy.
	if len(seen) < 990 {
		t.Errorf("Suspicious collision rate: %d unique of 1000", len(seen))
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"Ab3dE", true},
		{"aaaaa", true},
		{"ab3d", false},
		{"ab3dEf", false},
		{"ab-3d", false},
		{"", false},
	}
	for _, c := range cases {
		if got := Valid(c.in); got != c.want {
			t.Errorf("Valid(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

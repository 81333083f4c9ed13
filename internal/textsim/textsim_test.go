package textsim

import "testing"

func TestRatioIdentical(t *testing.T) {
	if got := Ratio("what is your name", "what is your name"); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
}

func TestRatioEmpty(t *testing.T) {
	if got := Ratio("", ""); got != 100 {
		t.Errorf("expected 100 for two empty strings, got %d", got)
	}
	if got := Ratio("hello", ""); got != 0 {
		t.Errorf("expected 0 against empty string, got %d", got)
	}
}

func TestRatioDisjoint(t *testing.T) {
	if got := Ratio("abc", "xyz"); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestRatioSymmetric(t *testing.T) {
	a, b := "what is your name", "whats your name?"
	if Ratio(a, b) != Ratio(b, a) {
		t.Errorf("ratio not symmetric: %d vs %d", Ratio(a, b), Ratio(b, a))
	}
}

func TestRatioNearDuplicate(t *testing.T) {
	got := Ratio("what is your name", "what is your name?")
	if got < DupThreshold {
		t.Errorf("near-duplicate scored %d, want >= %d", got, DupThreshold)
	}
}

func TestRatioBounds(t *testing.T) {
	cases := [][2]string{
		{"", "a"},
		{"a", "ab"},
		{"short", "a much longer sentence entirely"},
		{"你叫什么名字", "你叫什么"},
	}
	for _, c := range cases {
		got := Ratio(c[0], c[1])
		if got < 0 || got > 100 {
			t.Errorf("Ratio(%q, %q) = %d, out of [0,100]", c[0], c[1], got)
		}
	}
}

func TestRatioMultibyte(t *testing.T) {
	// Distance must be computed over runes, not bytes.
	got := Ratio("你叫什么名字", "你叫什么名字呀")
	if got < DupThreshold {
		t.Errorf("rune near-duplicate scored %d, want >= %d", got, DupThreshold)
	}
}

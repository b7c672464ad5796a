package resolver

import "testing"

func TestJaroWinklerIdentical(t *testing.T) {
	if got := jaroWinkler("smith", "smith"); got != 1.0 {
		t.Fatalf("jaroWinkler(identical) = %v, want 1.0", got)
	}
}

func TestJaroWinklerCompletelyDifferent(t *testing.T) {
	got := jaroWinkler("smith", "zzzzz")
	if got != 0 {
		t.Fatalf("jaroWinkler(disjoint) = %v, want 0", got)
	}
}

func TestJaroWinklerCloseNames(t *testing.T) {
	got := jaroWinkler("martha", "marhta")
	if got < 0.9 {
		t.Fatalf("jaroWinkler(martha, marhta) = %v, want >= 0.9 (classic example ~0.961)", got)
	}
}

func TestJaroWinklerEmptyStrings(t *testing.T) {
	if got := jaroWinkler("", "anything"); got != 0 {
		t.Fatalf("jaroWinkler(empty, x) = %v, want 0", got)
	}
}

func TestNormalizeFoldsDiacriticsAndCase(t *testing.T) {
	got := Normalize("José García")
	want := "jose garcia"
	if got != want {
		t.Fatalf("Normalize = %q, want %q", got, want)
	}
}

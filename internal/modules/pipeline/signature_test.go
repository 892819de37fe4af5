package pipeline

import "testing"

func TestSignatureStableUnderFormatting(t *testing.T) {
	a := Signature("Nepal bans Facebook", "The government announced a ban.")
	b := Signature("NEPAL BANS FACEBOOK!!!", "The government   announced a ban?")
	if a != b {
		t.Fatal("signatures differ for content that normalizes identically")
	}
}

func TestSignatureDiffersForDifferentContent(t *testing.T) {
	a := Signature("Nepal bans Facebook", "body")
	b := Signature("Nepal lifts Facebook ban", "body")
	if a == b {
		t.Fatal("different titles produced the same signature")
	}
}

func TestSignatureUsesOnlyPrefix(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'a'
	}
	a := Signature("title", string(long)+" tail one")
	b := Signature("title", string(long)+" tail two")
	if a != b {
		t.Fatal("bytes beyond the prefix affected the signature")
	}
}

func TestSignificantWords(t *testing.T) {
	words := significantWords("This is about the Nepal government banning Facebook")
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	if !set["nepal"] || !set["government"] || !set["banning"] || !set["facebook"] {
		t.Fatalf("missing expected words in %v", words)
	}
	if set["this"] || set["about"] {
		t.Fatalf("stop words not filtered: %v", words)
	}
	for _, w := range words {
		if len(w) <= 3 {
			t.Fatalf("short token %q not filtered", w)
		}
	}
}

func TestJaccard(t *testing.T) {
	cases := []struct {
		a, b []string
		want float64
	}{
		{[]string{"nepal", "facebook"}, []string{"nepal", "facebook"}, 1},
		{[]string{"nepal", "facebook"}, []string{"nepal", "twitter"}, 1.0 / 3.0},
		{[]string{"nepal"}, []string{"tokyo"}, 0},
		{nil, []string{"tokyo"}, 0},
	}
	for _, tc := range cases {
		if got := jaccard(tc.a, tc.b); got != tc.want {
			t.Errorf("jaccard(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

package deduplication

import (
	"errors"
	"math"
	"testing"

	"corpusdedup/config"
	"corpusdedup/types"
)

func TestComputeHash(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		method string
		want   string
	}{
		{"md5", "abc", config.HashMD5, "900150983cd24fb0d6963f7d28e17f72"},
		{"md5 default", "abc", "", "900150983cd24fb0d6963f7d28e17f72"},
		{"sha256", "abc", config.HashSHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"surrounding whitespace", "  abc\r\n", config.HashMD5, "900150983cd24fb0d6963f7d28e17f72"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ComputeHash(c.text, c.method)
			if err != nil {
				t.Fatalf("ComputeHash(%q, %q) error: %v", c.text, c.method, err)
			}
			if got != c.want {
				t.Fatalf("ComputeHash(%q, %q) = %s; want %s", c.text, c.method, got, c.want)
			}
		})
	}

	if _, err := ComputeHash("abc", "crc32"); !errors.Is(err, types.ErrConfig) {
		t.Fatalf("expected config error for unknown method, got %v", err)
	}
}

func TestMinHashIsDeterministic(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"

	a := ComputeMinHash(text, 5, 64, 42)
	b := ComputeMinHash(text, 5, 64, 42)
	if len(a) != 64 {
		t.Fatalf("signature length = %d; want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("signatures differ at %d with the same seed", i)
		}
	}

	c := ComputeMinHash(text, 5, 64, 43)
	same := 0
	for i := range a {
		if a[i] == c[i] {
			same++
		}
	}
	if same == len(a) {
		t.Fatal("different seeds produced identical signatures")
	}
}

func TestMinHashShortAndEmptyText(t *testing.T) {
	hasher := NewMinHasher(24, 16, 1)

	short := hasher.Signature("ab")
	for i, v := range short {
		if v == math.MaxUint64 {
			t.Fatalf("short text left slot %d unset", i)
		}
	}
	if got := Shingles("ab", 24); len(got) != 1 {
		t.Fatalf("short text should form one shingle, got %d", len(got))
	}

	for i, v := range hasher.Signature("") {
		if v != math.MaxUint64 {
			t.Fatalf("empty text slot %d = %d; want max", i, v)
		}
	}
}

func TestShinglesCountRunes(t *testing.T) {
	// five runes, six bytes
	if got := len(Shingles("héllo", 2)); got != 4 {
		t.Fatalf("Shingles(héllo, 2) has %d members; want 4", got)
	}
}

func TestJaccard(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"abc", "abcd", 0.75},
		{"abc", "abc", 1},
		{"abc", "xyz", 0},
	}
	for _, c := range cases {
		if got := Jaccard(Shingles(c.a, 1), Shingles(c.b, 1)); got != c.want {
			t.Errorf("Jaccard(%q, %q) = %v; want %v", c.a, c.b, got, c.want)
		}
	}
	if got := Jaccard(ShingleSet{}, ShingleSet{}); got != 0 {
		t.Errorf("Jaccard of empty sets = %v; want 0", got)
	}
}

func TestUnionFindComponents(t *testing.T) {
	uf := NewUnionFind(6)
	uf.Union(4, 1)
	uf.Union(1, 3)
	uf.Union(5, 2)
	if uf.Union(3, 4) {
		t.Fatal("union of already joined elements reported a merge")
	}

	got := uf.Components(2)
	want := [][]int{{1, 3, 4}, {2, 5}}
	if len(got) != len(want) {
		t.Fatalf("Components = %v; want %v", got, want)
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("Components = %v; want %v", got, want)
		}
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("Components = %v; want %v", got, want)
			}
		}
	}
	if all := uf.Components(1); len(all) != 3 {
		t.Fatalf("Components(1) has %d sets; want 3", len(all))
	}
}

package mls

import "testing"

// The ratchet tree always pads its leaf count to a power of two
// (spec.md §3 "N is the smallest power of two >= leaf_count"), so every
// case below exercises only power-of-two leaf counts, matching the
// only shapes tree-math is ever actually asked to navigate.

func TestTreeMathRootWidths(t *testing.T) {
	cases := []struct {
		n    leafCount
		root nodeIndex
	}{
		{1, 0},
		{2, 1},
		{4, 3},
		{8, 7},
		{16, 15},
	}
	for _, c := range cases {
		if got := root(c.n); got != c.root {
			t.Errorf("root(%d) = %d, want %d", c.n, got, c.root)
		}
	}
}

func TestTreeMathLevel(t *testing.T) {
	cases := []struct {
		x nodeIndex
		l uint32
	}{
		{0, 0}, {2, 0}, {4, 0},
		{1, 1}, {5, 1},
		{3, 2},
		{7, 3},
	}
	for _, c := range cases {
		if got := level(c.x); got != c.l {
			t.Errorf("level(%d) = %d, want %d", c.x, got, c.l)
		}
	}
}

func TestTreeMathParentChildRoundTrip(t *testing.T) {
	for _, n := range []leafCount{2, 4, 8, 16} {
		r := root(n)
		for x := nodeIndex(0); uint32(x) < nodeWidth(n); x++ {
			if x == r {
				continue
			}
			p := parent(x, n)
			if left(p) != x && right(p, n) != x {
				t.Errorf("n=%d: parent(%d)=%d is not actually a parent of %d (left=%d right=%d)", n, x, p, x, left(p), right(p, n))
			}
		}
	}
}

func TestTreeMathSiblingIsInvolution(t *testing.T) {
	for _, n := range []leafCount{2, 4, 8, 16} {
		r := root(n)
		for x := nodeIndex(0); uint32(x) < nodeWidth(n); x++ {
			if x == r {
				continue
			}
			s := sibling(x, n)
			if sibling(s, n) != x {
				t.Errorf("n=%d: sibling(sibling(%d)) = %d, want %d", n, x, sibling(s, n), x)
			}
		}
	}
}

func TestTreeMathDirectPathEndsAtRoot(t *testing.T) {
	n := leafCount(8)
	r := root(n)
	for i := leafIndex(0); uint32(i) < uint32(n); i++ {
		dp := directPath(toNodeIndex(i), n)
		if len(dp) == 0 {
			continue
		}
		if dp[len(dp)-1] != r {
			t.Errorf("directPath(%d) does not end at root: got %v, root=%d", i, dp, r)
		}
		for j := 1; j < len(dp); j++ {
			if parent(dp[j-1], n) != dp[j] {
				t.Errorf("directPath(%d)[%d..%d] is not parent-linked: %d -> %d", i, j-1, j, dp[j-1], dp[j])
			}
		}
	}
}

func TestTreeMathCopathMatchesDirectPathSiblings(t *testing.T) {
	n := leafCount(8)
	x := toNodeIndex(2)
	dp := directPath(x, n)
	cp := copath(x, n)
	if len(dp) != len(cp) {
		t.Fatalf("len(directPath)=%d != len(copath)=%d", len(dp), len(cp))
	}
	prev := x
	for i, anc := range dp {
		if sibling(prev, n) != cp[i] {
			t.Errorf("copath[%d] = %d, want sibling(%d) = %d", i, cp[i], prev, sibling(prev, n))
		}
		prev = anc
	}
}

func TestTreeMathCommonAncestorOfAdjacentLeaves(t *testing.T) {
	n := leafCount(8)
	ca := commonAncestor(toNodeIndex(0), toNodeIndex(1), n)
	if ca != 1 {
		t.Errorf("commonAncestor(leaf 0, leaf 1) = %d, want 1", ca)
	}
}

func TestTreeMathCommonAncestorOfRootSpanningLeaves(t *testing.T) {
	n := leafCount(8)
	ca := commonAncestor(toNodeIndex(0), toNodeIndex(7), n)
	if ca != root(n) {
		t.Errorf("commonAncestor(leaf 0, leaf 7) = %d, want root %d", ca, root(n))
	}
}

func TestTreeMathIsLeaf(t *testing.T) {
	for x := nodeIndex(0); x < 16; x++ {
		want := x%2 == 0
		if got := isLeaf(x); got != want {
			t.Errorf("isLeaf(%d) = %v, want %v", x, got, want)
		}
	}
}

func TestNodeIndexLeafIndexRoundTrip(t *testing.T) {
	for i := leafIndex(0); i < 20; i++ {
		if got := toLeafIndex(toNodeIndex(i)); got != i {
			t.Errorf("toLeafIndex(toNodeIndex(%d)) = %d", i, got)
		}
	}
}

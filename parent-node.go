package mls

import "sort"

// ParentNode is the tenant of an internal slot in the ratchet tree
// (spec.md §3). unmerged_leaves lists leaves added beneath this
// parent since it was last refreshed by an encap/apply_update_path and
// must be excluded from this parent's resolution (spec.md §4.1).
type ParentNode struct {
	EncryptionKey  HPKEPublicKey `tls:"head=2"`
	ParentHash     []byte        `tls:"head=1"`
	UnmergedLeaves []leafIndex   `tls:"head=4"`
}

// addUnmerged inserts l into UnmergedLeaves, keeping the slice sorted
// and strictly increasing as spec.md §3 requires.
func (p *ParentNode) addUnmerged(l leafIndex) {
	i := sort.Search(len(p.UnmergedLeaves), func(i int) bool { return p.UnmergedLeaves[i] >= l })
	if i < len(p.UnmergedLeaves) && p.UnmergedLeaves[i] == l {
		return
	}
	p.UnmergedLeaves = append(p.UnmergedLeaves, 0)
	copy(p.UnmergedLeaves[i+1:], p.UnmergedLeaves[i:])
	p.UnmergedLeaves[i] = l
}

func (p *ParentNode) clearUnmerged() {
	p.UnmergedLeaves = nil
}

func (p ParentNode) hasUnmerged(l leafIndex) bool {
	i := sort.Search(len(p.UnmergedLeaves), func(i int) bool { return p.UnmergedLeaves[i] >= l })
	return i < len(p.UnmergedLeaves) && p.UnmergedLeaves[i] == l
}

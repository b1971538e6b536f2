package raft

// termCache is a splay tree keyed by log index, caching known
// index-to-term mappings so a leader in steady state can answer
// prev_log_term queries without a WAL read. No example in the retrieval
// pack implements a splay tree or any ordered-map structure with amortized
// move-to-root behavior (container/list and container/heap don't fit this
// shape, and no example repo imports a splay-tree library), so this one
// component is built from the standard library alone; see DESIGN.md.
type termCache struct {
	root *splayNode
}

type splayNode struct {
	index       int64
	term        int64
	left, right *splayNode
}

func newTermCache() *termCache {
	return &termCache{}
}

// splay rotates the node with the given index (or its closest neighbor if
// absent) to the root, via the standard top-down zig/zig-zig/zig-zag
// splaying procedure.
func (t *termCache) splay(index int64) {
	if t.root == nil {
		return
	}
	var header splayNode
	left, right := &header, &header
	cur := t.root

	for {
		if index < cur.index {
			if cur.left == nil {
				break
			}
			if index < cur.left.index {
				// rotate right
				y := cur.left
				cur.left = y.right
				y.right = cur
				cur = y
				if cur.left == nil {
					break
				}
			}
			right.left = cur
			right = cur
			cur = cur.left
		} else if index > cur.index {
			if cur.right == nil {
				break
			}
			if index > cur.right.index {
				// rotate left
				y := cur.right
				cur.right = y.left
				y.left = cur
				cur = y
				if cur.right == nil {
					break
				}
			}
			left.right = cur
			left = cur
			cur = cur.right
		} else {
			break
		}
	}

	left.right = cur.left
	right.left = cur.right
	cur.left = header.right
	cur.right = header.left
	t.root = cur
}

// insert records term for index, splaying it to the root. Per the
// invariant that index i < j implies term_i <= term_j, callers are
// expected to only insert monotonically (the leader only ever learns about
// indices it appended itself, in order).
func (t *termCache) insert(index, term int64) {
	if t.root == nil {
		t.root = &splayNode{index: index, term: term}
		return
	}
	t.splay(index)
	if t.root.index == index {
		t.root.term = term
		return
	}
	n := &splayNode{index: index, term: term}
	if index < t.root.index {
		n.left = t.root.left
		n.right = t.root
		t.root.left = nil
	} else {
		n.right = t.root.right
		n.left = t.root
		t.root.right = nil
	}
	t.root = n
}

// get returns the cached term for index, if present.
func (t *termCache) get(index int64) (int64, bool) {
	if t.root == nil {
		return 0, false
	}
	t.splay(index)
	if t.root.index == index {
		return t.root.term, true
	}
	return 0, false
}

// removePriorTo discards every entry with index strictly less than
// boundary, used after a snapshot compacts the WAL so the cache never
// answers for indices that no longer exist.
func (t *termCache) removePriorTo(boundary int64) {
	if t.root == nil {
		return
	}
	// Splaying on a key not present brings its predecessor-or-successor to
	// the root (standard top-down splay property): everything still under
	// root.left is necessarily < boundary, so it can always be cut; if the
	// root itself landed below boundary (the predecessor case), it goes too.
	t.splay(boundary)
	t.root.left = nil
	if t.root.index < boundary {
		t.root = t.root.right
	}
}

// clear empties the cache, performed on every leader-role entry.
func (t *termCache) clear() {
	t.root = nil
}

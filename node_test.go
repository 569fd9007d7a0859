package ldb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestLeaf(t *testing.T, size int) *node {
	t.Helper()
	p := make([]byte, size)
	pageInitEmpty(p, typeLeaf)
	pageSetExtremity(p, true, true)
	return newNode(1, p)
}

func TestBinarySearchOrderedInsertsFindEachKey(t *testing.T) {
	n := newTestLeaf(t, 4096)

	keys := []string{"aaa", "bbb", "ccc", "ddd", "eee"}
	for _, k := range keys {
		pos := n.binarySearch([]byte(k))
		require.Less(t, pos, 0, "key %q should not exist yet", k)
		n.insertLeafEntry(nil, ^pos, []byte(k), []byte("v-"+k), false)
	}

	for _, k := range keys {
		pos := n.binarySearch([]byte(k))
		require.GreaterOrEqual(t, pos, 0, "key %q should be found", k)
		val, _, ghost := n.retrieveLeafValue(pos)
		require.False(t, ghost)
		require.Equal(t, "v-"+k, string(val))
	}

	require.Less(t, n.binarySearch([]byte("zzz")), 0)
	require.Less(t, n.binarySearch([]byte("000")), 0)
}

// TestSearchVectorStrictlyAscending is §8 invariant 3: for every pair of
// adjacent search-vector entries, key(i) < key(i+1).
func TestSearchVectorStrictlyAscending(t *testing.T) {
	n := newTestLeaf(t, 4096)
	for i := 99; i >= 0; i-- {
		k := []byte(fmt.Sprintf("k%03d", i))
		pos := n.binarySearch(k)
		n.insertLeafEntry(nil, ^pos, k, []byte("v"), false)
	}

	count := n.keyCount()
	require.Equal(t, 100, count)
	var prev []byte
	for i := 0; i < count; i++ {
		k := n.retrieveKey(i * 2)
		if prev != nil {
			require.Less(t, compareBytes(prev, k), 0, "key order violated at slot %d", i)
		}
		prev = append([]byte(nil), k...)
	}
}

func TestUpdateLeafValueInPlaceWhenItFits(t *testing.T) {
	n := newTestLeaf(t, 4096)
	pos := n.binarySearch([]byte("k"))
	n.insertLeafEntry(nil, ^pos, []byte("k"), []byte("short"), false)

	pos = n.binarySearch([]byte("k"))
	require.GreaterOrEqual(t, pos, 0)
	loc := n.updateLeafValue(nil, pos, []byte("xy"), false)
	require.GreaterOrEqual(t, loc, 0)

	pos = n.binarySearch([]byte("k"))
	val, _, ghost := n.retrieveLeafValue(pos)
	require.False(t, ghost)
	require.Equal(t, "xy", string(val))
}

// TestGarbageAccountingAfterDelete is §8 invariant 1.
func TestGarbageAccountingAfterDelete(t *testing.T) {
	n := newTestLeaf(t, 4096)
	for _, k := range []string{"a", "b", "c"} {
		pos := n.binarySearch([]byte(k))
		n.insertLeafEntry(nil, ^pos, []byte(k), []byte("value"), false)
	}
	require.Equal(t, 0, pageGarbage(n.page))

	pos := n.binarySearch([]byte("b"))
	require.GreaterOrEqual(t, pos, 0)
	loc := n.entryLoc(pos)
	deletedLen := leafEntryLengthAtLoc(n.page, loc)

	n.deleteLeafEntry(pos)
	require.Equal(t, deletedLen, pageGarbage(n.page))

	require.Equal(t, 2, n.keyCount())
	require.Less(t, n.binarySearch([]byte("b")), 0)
}

func TestGhostLeafEntryHidesValueUntilOverwritten(t *testing.T) {
	n := newTestLeaf(t, 4096)
	pos := n.binarySearch([]byte("k"))
	n.insertLeafEntry(nil, ^pos, []byte("k"), []byte("v"), false)

	pos = n.binarySearch([]byte("k"))
	n.ghostLeafEntry(pos)

	_, _, ghost := n.retrieveLeafValue(pos)
	require.True(t, ghost)
}

func TestRootDeleteCollapsesInternalRoot(t *testing.T) {
	leaf := newTestLeaf(t, 4096)
	for _, k := range []string{"a", "b"} {
		pos := leaf.binarySearch([]byte(k))
		leaf.insertLeafEntry(nil, ^pos, []byte(k), []byte("v"), false)
	}

	root := &node{id: 5, page: make([]byte, 4096)}
	pageInitEmpty(root.page, typeBottomInternal)
	root.children = []*node{leaf}
	root.setChildID(0, leaf.id)

	root.rootDelete(nil)

	require.True(t, root.isLeaf())
	require.Equal(t, 2, root.keyCount())
	require.GreaterOrEqual(t, root.binarySearch([]byte("a")), 0)

	require.Equal(t, StubPage, leaf.id)
	require.True(t, leaf.isInternal())
	require.Len(t, leaf.children, 1)
	require.Same(t, root, leaf.children[0])
}

// TestRootDeleteRebindsFramesToTheirNewContent is grounded on
// Node.java:3397-3406: a frame bound to the root before the collapse must
// follow the root's original content onto the stub, and a frame bound to
// the child must follow the child's content onto the real root object,
// since each frame's pos indexes into bytes that physically moved.
func TestRootDeleteRebindsFramesToTheirNewContent(t *testing.T) {
	leaf := newTestLeaf(t, 4096)
	pos := leaf.binarySearch([]byte("a"))
	leaf.insertLeafEntry(nil, ^pos, []byte("a"), []byte("v"), false)

	root := &node{id: 5, page: make([]byte, 4096)}
	pageInitEmpty(root.page, typeBottomInternal)
	root.children = []*node{leaf}
	root.setChildID(0, leaf.id)

	rootFrame := &frame{}
	root.bindFrame(rootFrame)
	leafFrame := &frame{}
	leaf.bindFrame(leafFrame)

	root.rootDelete(nil)

	require.Same(t, leaf, rootFrame.node, "a frame bound to the old root follows its content onto the stub")
	require.Same(t, root, leafFrame.node, "a frame bound to the child follows its content onto the real root")
}

func TestMergeEligible(t *testing.T) {
	n := newTestLeaf(t, 4096)
	require.True(t, n.mergeEligible(), "a freshly initialized leaf has all its space available")

	for i := 0; i < 30; i++ {
		k := []byte(fmt.Sprintf("key-%04d", i))
		v := make([]byte, 150)
		pos := n.binarySearch(k)
		n.insertLeafEntry(nil, ^pos, k, v, false)
	}
	require.False(t, n.mergeEligible(), "a leaf packed with large entries should not be merge-eligible")
}

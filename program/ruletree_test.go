package program_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regovm/engine/program"
)

func TestRuleTreeInsertLookupWalk(t *testing.T) {
	tree := program.NewRuleTree()
	require.NoError(t, tree.Insert([]string{"p", "allow"}, 0))
	require.NoError(t, tree.Insert([]string{"p", "roles"}, 1))
	require.NoError(t, tree.Insert([]string{"q", "deny"}, 2))

	idx, ok := tree.Lookup([]string{"p", "allow"})
	require.True(t, ok)
	require.Equal(t, 0, idx)

	_, ok = tree.Lookup([]string{"p", "missing"})
	require.False(t, ok)

	wr := tree.Walk([]string{"p", "allow", "extra"})
	require.True(t, wr.Leaf)
	require.Equal(t, 0, wr.RuleIndex)
	require.Equal(t, 2, wr.Consumed)

	wr = tree.Walk([]string{"p"})
	require.False(t, wr.Leaf)
	node, ok := tree.NodeAt([]string{"p"})
	require.True(t, ok)
	require.Equal(t, node, wr.Node)

	leaves := program.Leaves(node)
	require.Len(t, leaves, 2)
}

func TestRuleTreeInsertLeafSubtreeConflict(t *testing.T) {
	tree := program.NewRuleTree()
	require.NoError(t, tree.Insert([]string{"p", "allow"}, 0))
	err := tree.Insert([]string{"p", "allow", "nested"}, 1)
	require.Error(t, err)
}

func TestRuleTreeInsertSubtreeLeafConflict(t *testing.T) {
	tree := program.NewRuleTree()
	require.NoError(t, tree.Insert([]string{"p", "allow", "nested"}, 0))
	err := tree.Insert([]string{"p", "allow"}, 1)
	require.Error(t, err)
}

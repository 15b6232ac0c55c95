package program

import (
	"fmt"
	"strings"

	"github.com/regovm/engine/value"
)

// RuleTree is the object-shaped trie mapping rule paths to rule
// indices (§3, §4.4). It is represented directly as a value.Value
// Object so it can be serialized by the same value codec as ordinary
// data (§4.5) and merged against the data document without a second
// representation. A leaf is a Number holding a rule index; an
// interior node is an Object.
type RuleTree struct {
	Root value.Value
}

// NewRuleTree returns an empty rule tree.
func NewRuleTree() RuleTree {
	return RuleTree{Root: value.EmptyObject()}
}

// Insert binds path to ruleIndex, creating interior objects as
// needed. It returns an error if path would make a leaf share a
// prefix with a non-leaf at the same depth (the invariant in §3).
func (t *RuleTree) Insert(path []string, ruleIndex int) error {
	if len(path) == 0 {
		return fmt.Errorf("rule tree: empty path")
	}
	root, err := insertPath(t.Root, path, ruleIndex)
	if err != nil {
		return err
	}
	t.Root = root
	return nil
}

func insertPath(node value.Value, path []string, ruleIndex int) (value.Value, error) {
	key := value.String(path[0])
	existing := node.ObjectGet(key)

	if len(path) == 1 {
		if existing.Kind() == value.KindObject && existing.Len() > 0 {
			return value.Value{}, fmt.Errorf("rule tree: leaf %q conflicts with existing subtree", strings.Join(path, "."))
		}
		return node.ObjectSet(key, value.Int(int64(ruleIndex))), nil
	}

	var child value.Value
	switch existing.Kind() {
	case value.KindUndefined:
		child = value.EmptyObject()
	case value.KindObject:
		child = existing
	case value.KindNumber:
		return value.Value{}, fmt.Errorf("rule tree: subtree at %q conflicts with existing leaf", strings.Join(path[:1], "."))
	default:
		child = value.EmptyObject()
	}

	updated, err := insertPath(child, path[1:], ruleIndex)
	if err != nil {
		return value.Value{}, err
	}
	return node.ObjectSet(key, updated), nil
}

// Lookup returns the rule index bound at the exact path, if any.
func (t RuleTree) Lookup(path []string) (int, bool) {
	node := t.Root
	for _, seg := range path {
		node = node.ObjectGet(value.String(seg))
		if node.IsUndefined() {
			return 0, false
		}
	}
	if node.Kind() == value.KindNumber {
		return int(node.Int64()), true
	}
	return 0, false
}

// NodeAt returns the subtree or leaf at path, and whether it exists.
func (t RuleTree) NodeAt(path []string) (value.Value, bool) {
	node := t.Root
	for _, seg := range path {
		node = node.ObjectGet(value.String(seg))
		if node.IsUndefined() {
			return value.Value{}, false
		}
	}
	return node, true
}

// WalkResult describes how far a VDD/chained-index walk got before
// hitting a leaf, running out of tree, or running out of path.
type WalkResult struct {
	// Consumed is how many leading path segments were consumed before
	// stopping.
	Consumed int
	// RuleIndex is valid iff Leaf is true.
	RuleIndex int
	Leaf      bool
	// Node is the interior subtree reached (only meaningful when the
	// walk ran out of path without hitting a leaf).
	Node value.Value
}

// Walk consumes path segments against the tree until it reaches a
// leaf (rule index) or exhausts either the path or the tree.
func (t RuleTree) Walk(path []string) WalkResult {
	node := t.Root
	for i, seg := range path {
		next := node.ObjectGet(value.String(seg))
		if next.IsUndefined() {
			return WalkResult{Consumed: i, Node: node}
		}
		if next.Kind() == value.KindNumber {
			return WalkResult{Consumed: i + 1, Leaf: true, RuleIndex: int(next.Int64())}
		}
		node = next
	}
	return WalkResult{Consumed: len(path), Node: node}
}

// Leaf is one (relative path, rule index) pair discovered under a
// rule-group subtree.
type Leaf struct {
	Path      []string
	RuleIndex int
}

// Leaves returns every leaf reachable under node, with paths relative
// to node, in key order (deterministic, matching §4.4's "merge" step).
func Leaves(node value.Value) []Leaf {
	var out []Leaf
	var walk func(prefix []string, n value.Value)
	walk = func(prefix []string, n value.Value) {
		if n.Kind() != value.KindObject {
			return
		}
		for _, kv := range n.ObjectEntries() {
			key := kv[0].Str()
			val := kv[1]
			path := append(append([]string{}, prefix...), key)
			if val.Kind() == value.KindNumber {
				out = append(out, Leaf{Path: path, RuleIndex: int(val.Int64())})
			} else if val.Kind() == value.KindObject {
				walk(path, val)
			}
		}
	}
	walk(nil, node)
	return out
}

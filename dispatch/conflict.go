package dispatch

import (
	"fmt"
	"strings"

	"github.com/regovm/engine/program"
	"github.com/regovm/engine/rvm"
	"github.com/regovm/engine/value"
)

// CheckRuleDataConflict walks the whole rule tree against data before
// an evaluation begins (§4.4): any path where the tree holds a leaf
// (a rule) and data holds a non-undefined value at the same path is a
// conflict, as is a rule subtree rooted under a key whose data
// counterpart exists but isn't itself an object.
func CheckRuleDataConflict(prog *program.Program, data value.Value) error {
	return checkConflict(prog.RuleTree.Root, data, nil)
}

func checkConflict(node, data value.Value, path []string) error {
	if node.Kind() != value.KindObject {
		return nil
	}
	for _, kv := range node.ObjectEntries() {
		key, child := kv[0], kv[1]
		childPath := append(append([]string{}, path...), key.Str())

		var dataChild value.Value = value.Undefined
		if data.Kind() == value.KindObject {
			dataChild = data.ObjectGet(key)
		}

		if child.Kind() == value.KindNumber {
			if !dataChild.IsUndefined() {
				return &rvm.Error{Kind: rvm.ErrRuleDataConflict, Message: fmt.Sprintf("rule %s conflicts with data at the same path", strings.Join(childPath, "."))}
			}
			continue
		}

		if !dataChild.IsUndefined() && dataChild.Kind() != value.KindObject {
			return &rvm.Error{Kind: rvm.ErrRuleDataConflict, Message: fmt.Sprintf("rule subtree at %s conflicts with non-object data", strings.Join(childPath, "."))}
		}
		if err := checkConflict(child, dataChild, childPath); err != nil {
			return err
		}
	}
	return nil
}

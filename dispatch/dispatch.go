// Package dispatch implements the rule dispatcher (§4.4): rule
// calling with caching and per-type aggregation, function-rule
// specialization, and virtual-data-document evaluation. It is the
// rvm.RuleCaller the VM calls back into for CallRule/FunctionCall/VDD
// lookup opcodes — the VM itself knows nothing about caching,
// accumulation, or the data/rule merge.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/sirupsen/logrus"

	"github.com/regovm/engine/program"
	"github.com/regovm/engine/rvm"
	"github.com/regovm/engine/value"
)

// Dispatcher owns the per-evaluation caches the VM's RuleCaller
// opcodes delegate to. One Dispatcher is bound to one VM for the
// lifetime of a single entry-point evaluation; ExecuteEntryPointByName
// resets every cache before dispatching, matching "running an entry
// point always starts a fresh evaluation" (§4.4).
type Dispatcher struct {
	log *logrus.Entry

	ruleCache      map[int]value.Value
	ruleInProgress map[int]bool

	vddCache      *simplelru.LRU[string, value.Value]
	vddInProgress map[string]struct{}
}

// New returns a Dispatcher with its caches ready. windowSize bounds
// the virtual-data-document LRU (typically program.DispatchWindowSize).
func New(windowSize int) *Dispatcher {
	if windowSize <= 0 {
		windowSize = 1024
	}
	lru, err := simplelru.NewLRU[string, value.Value](windowSize, nil)
	if err != nil {
		// only returns an error for a non-positive size, already guarded above.
		panic(err)
	}
	return &Dispatcher{
		log:            logrus.WithField("component", "dispatch"),
		ruleCache:      map[int]value.Value{},
		ruleInProgress: map[int]bool{},
		vddCache:       lru,
		vddInProgress:  map[string]struct{}{},
	}
}

// Reset clears every cache, used before beginning a fresh evaluation.
func (d *Dispatcher) Reset() {
	d.ruleCache = map[int]value.Value{}
	d.ruleInProgress = map[int]bool{}
	d.vddCache.Purge()
	d.vddInProgress = map[string]struct{}{}
}

// ExecuteEntryPointByName resets the dispatcher's caches, checks for a
// rule/data conflict against the VM's current data document, wires
// itself in as the VM's RuleCaller, and begins evaluation (§4.4).
func (d *Dispatcher) ExecuteEntryPointByName(ctx context.Context, vm *rvm.VM, path string) (value.Value, error) {
	d.Reset()
	if err := CheckRuleDataConflict(vm.Prog, vm.Data); err != nil {
		return value.Value{}, err
	}
	vm.RuleCaller = d
	d.log.WithField("entry_point", path).Debug("executing entry point")
	return vm.ExecuteEntryPointByName(ctx, path)
}

// ExecuteEntryPointByIndex is ExecuteEntryPointByName's counterpart
// for a caller that already knows the target instruction index (used
// by engine.RegoVM.Execute against a program's recorded
// MainEntryPoint).
func (d *Dispatcher) ExecuteEntryPointByIndex(ctx context.Context, vm *rvm.VM, pc uint32) (value.Value, error) {
	d.Reset()
	if err := CheckRuleDataConflict(vm.Prog, vm.Data); err != nil {
		return value.Value{}, err
	}
	vm.RuleCaller = d
	return vm.ExecuteEntryPointByIndex(ctx, pc)
}

// isBodyFailed reports whether err is the VM's ordinary
// negation-as-failure outcome (a body's AssertCondition/
// AssertNotUndefined failed with no enclosing loop/comprehension to
// route to) rather than a genuine evaluation error. A failed body
// means "this definition/body produced no result", not "evaluation
// broke" — the caller moves on to the next candidate.
func isBodyFailed(err error) bool {
	var e *rvm.Error
	if errors.As(err, &e) {
		return e.Kind == rvm.ErrBodyFailed
	}
	return false
}

// CallRule implements rvm.RuleCaller. Non-function rules are cached
// per evaluation (§4.4): a cache hit, including a cached Undefined,
// short-circuits straight back without re-running any body.
func (d *Dispatcher) CallRule(vm *rvm.VM, ruleIndex int) (value.Value, error) {
	if v, ok := d.ruleCache[ruleIndex]; ok {
		d.log.WithField("rule", ruleIndex).Trace("rule cache hit")
		return v, nil
	}
	if d.ruleInProgress[ruleIndex] {
		return value.Value{}, &rvm.Error{Kind: rvm.ErrRecursionDetected, Message: fmt.Sprintf("rule %d is already being evaluated", ruleIndex)}
	}
	d.ruleInProgress[ruleIndex] = true
	defer delete(d.ruleInProgress, ruleIndex)

	if ruleIndex < 0 || ruleIndex >= len(vm.Prog.RuleInfos) {
		return value.Value{}, &rvm.Error{Kind: rvm.ErrRuleOutOfRange, Message: fmt.Sprintf("rule index %d out of range", ruleIndex)}
	}
	ri := &vm.Prog.RuleInfos[ruleIndex]
	d.log.WithFields(logrus.Fields{"rule": ri.Name, "type": ri.Type}).Debug("dispatching rule")

	result, err := d.evalRule(vm, ri)
	if err != nil {
		return value.Value{}, err
	}
	d.ruleCache[ruleIndex] = result
	return result, nil
}

// evalRule runs every definition/body of ri and aggregates per its
// RuleType (§3, §4.4).
func (d *Dispatcher) evalRule(vm *rvm.VM, ri *program.RuleInfo) (value.Value, error) {
	if len(ri.Definitions) == 0 {
		return value.Undefined, nil
	}
	switch ri.Type {
	case program.RulePartialSet:
		return d.evalPartialSet(vm, ri)
	case program.RulePartialObject:
		return d.evalPartialObject(vm, ri)
	default:
		return d.evalComplete(vm, ri)
	}
}

// runDefinition runs one definition's destructuring block (if any)
// followed by each of its bodies in turn, invoking yield per
// successfully-produced result. It stops and returns an error only for
// a genuine (non-body-failure) error.
func (d *Dispatcher) runDefinition(vm *rvm.VM, ri *program.RuleInfo, defIdx int, initialRegs []value.Value, yield func(value.Value) error) error {
	regs := initialRegs
	if destruct := ri.DestructuringBlocks[defIdx]; destruct != nil {
		r, _, err := vm.RunBodyWithRegs(*destruct, initialRegs)
		if err != nil {
			if isBodyFailed(err) {
				return nil // destructuring didn't match this definition at all
			}
			return err
		}
		regs = r
	}
	for _, bodyStart := range ri.Definitions[defIdx] {
		v, err := vm.RunBody(bodyStart, regs)
		if err != nil {
			if isBodyFailed(err) {
				continue
			}
			return err
		}
		if err := yield(v); err != nil {
			return err
		}
	}
	return nil
}

// evalComplete implements complete-rule aggregation: the first
// success wins; a later body producing a different value makes the
// rule inconsistent, per §4.4 resolved to a final Undefined rather
// than a hard error (an Open Question decision recorded in
// DESIGN.md — upstream Rego treats this as a conflict error, but the
// spec's "inconsistent -> final Undefined" framing is taken literally
// here).
func (d *Dispatcher) evalComplete(vm *rvm.VM, ri *program.RuleInfo) (value.Value, error) {
	var result value.Value
	has := false
	inconsistent := false

	for i := range ri.Definitions {
		if inconsistent {
			break
		}
		err := d.runDefinition(vm, ri, i, nil, func(v value.Value) error {
			if !has {
				result, has = v, true
				return nil
			}
			if !value.Equal(result, v) {
				inconsistent = true
				d.log.WithField("rule", ri.Name).Warn("complete rule produced conflicting values; resolving to undefined")
			}
			return nil
		})
		if err != nil {
			return value.Value{}, err
		}
	}

	if inconsistent {
		return value.Undefined, nil
	}
	if !has {
		if ri.DefaultLiteralIndex != nil {
			return vm.Prog.Literals[*ri.DefaultLiteralIndex], nil
		}
		return value.Undefined, nil
	}
	return result, nil
}

// evalPartialSet implements partial-set accumulation: every
// successfully-produced value across every definition/body is added
// to the result set (§3, §4.4). Multiple solutions within a single
// `some`-headed body are not separately enumerated — see DESIGN.md for
// the generator simplification this relies on.
func (d *Dispatcher) evalPartialSet(vm *rvm.VM, ri *program.RuleInfo) (value.Value, error) {
	result := value.EmptySet()
	for i := range ri.Definitions {
		err := d.runDefinition(vm, ri, i, nil, func(v value.Value) error {
			result = result.SetAdd(v)
			return nil
		})
		if err != nil {
			return value.Value{}, err
		}
	}
	return result, nil
}

// evalPartialObject implements partial-object accumulation: every
// (key, value) produced is set into the result object, except that two
// bodies producing the same key with differing values is a hard error
// (§4.4) rather than a silent last-write-wins.
func (d *Dispatcher) evalPartialObject(vm *rvm.VM, ri *program.RuleInfo) (value.Value, error) {
	result := value.EmptyObject()
	for i := range ri.Definitions {
		err := d.runDefinition(vm, ri, i, nil, func(kv value.Value) error {
			if kv.Kind() != value.KindObject || kv.Len() != 1 {
				return fmt.Errorf("dispatch: partial object rule %q produced a non-singleton object", ri.Name)
			}
			entries := kv.ObjectEntries()
			key, val := entries[0][0], entries[0][1]
			existing := result.ObjectGet(key)
			if !existing.IsUndefined() && !value.Equal(existing, val) {
				return fmt.Errorf("dispatch: partial object rule %q has conflicting values for key %s", ri.Name, key.String())
			}
			result = result.ObjectSet(key, val)
			return nil
		})
		if err != nil {
			return value.Value{}, err
		}
	}
	return result, nil
}

// CallFunction implements rvm.RuleCaller. Function rules specialize
// over their call-site arguments and are never cached (§4.4): every
// call re-runs destructuring and bodies against the given args, with
// the first successful body across all definitions winning (a
// documented simplification of OPA's full multi-value function
// semantics — see DESIGN.md).
func (d *Dispatcher) CallFunction(vm *rvm.VM, ruleIndex int, args []value.Value) (value.Value, error) {
	if ruleIndex < 0 || ruleIndex >= len(vm.Prog.RuleInfos) {
		return value.Value{}, &rvm.Error{Kind: rvm.ErrRuleOutOfRange, Message: fmt.Sprintf("function rule index %d out of range", ruleIndex)}
	}
	ri := &vm.Prog.RuleInfos[ruleIndex]
	d.log.WithField("function", ri.Name).Debug("dispatching function call")

	var result value.Value
	found := false
	for i := range ri.Definitions {
		if found {
			break
		}
		err := d.runDefinition(vm, ri, i, args, func(v value.Value) error {
			if !found {
				result, found = v, true
			}
			return nil
		})
		if err != nil {
			return value.Value{}, err
		}
	}
	if found {
		return result, nil
	}
	if ri.DefaultLiteralIndex != nil {
		return vm.Prog.Literals[*ri.DefaultLiteralIndex], nil
	}
	return value.Undefined, nil
}

// VirtualDataDocument implements rvm.RuleCaller. It walks the rule
// tree from the root against components, memoizing per evaluation
// (§4.4). components always fully consume the walk by construction:
// the compiler only emits a VDD lookup for a path that either lands
// exactly on a leaf or fully touches an interior rule-group subtree
// (compiler/ref.go's emitVDD).
func (d *Dispatcher) VirtualDataDocument(vm *rvm.VM, components []string) (value.Value, error) {
	key := strings.Join(components, "\x00")
	if v, ok := d.vddCache.Get(key); ok {
		d.log.WithField("path", strings.Join(components, ".")).Trace("VDD cache hit")
		return v, nil
	}
	if _, ok := d.vddInProgress[key]; ok {
		return value.Value{}, &rvm.Error{Kind: rvm.ErrRecursionDetected, Message: fmt.Sprintf("virtual data document cycle at %s", strings.Join(components, "."))}
	}
	d.vddInProgress[key] = struct{}{}
	defer delete(d.vddInProgress, key)

	result, err := d.evalVDD(vm, components)
	if err != nil {
		return value.Value{}, err
	}
	d.vddCache.Add(key, result)
	return result, nil
}

func (d *Dispatcher) evalVDD(vm *rvm.VM, components []string) (value.Value, error) {
	wr := vm.Prog.RuleTree.Walk(components)
	if wr.Leaf {
		return d.CallRule(vm, wr.RuleIndex)
	}

	d.log.WithField("path", strings.Join(components, ".")).Trace("merging virtual data document group")
	result := staticDataAt(vm.Data, components)
	if result.IsUndefined() {
		result = value.EmptyObject()
	}
	for _, leaf := range program.Leaves(wr.Node) {
		v, err := d.CallRule(vm, leaf.RuleIndex)
		if err != nil {
			return value.Value{}, err
		}
		if v.IsUndefined() {
			continue
		}
		result = setPath(result, leaf.Path, v)
	}
	return result, nil
}

// staticDataAt walks data along path, returning Undefined if any
// segment is absent or the walk hits a non-object before path ends.
func staticDataAt(data value.Value, path []string) value.Value {
	cur := data
	for _, seg := range path {
		if cur.Kind() != value.KindObject {
			return value.Undefined
		}
		cur = cur.ObjectGet(value.String(seg))
		if cur.IsUndefined() {
			return value.Undefined
		}
	}
	return cur
}

// setPath returns a copy of obj with v bound at the nested path,
// creating intermediate objects as needed.
func setPath(obj value.Value, path []string, v value.Value) value.Value {
	if len(path) == 0 {
		return v
	}
	if obj.Kind() != value.KindObject {
		obj = value.EmptyObject()
	}
	key := value.String(path[0])
	child := setPath(obj.ObjectGet(key), path[1:], v)
	return obj.ObjectSet(key, child)
}

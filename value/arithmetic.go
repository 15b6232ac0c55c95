package value

import "fmt"

// ErrTypeMismatch is returned by the arithmetic operators when operand
// kinds are incompatible, in both strict and non-strict mode, and by
// CompareValues for an ordering comparison across kinds in strict mode
// only.
type ErrTypeMismatch struct {
	Op       string
	Left     Kind
	Right    Kind
}

func (e *ErrTypeMismatch) Error() string {
	return fmt.Sprintf("type mismatch: %s on %s and %s", e.Op, e.Left, e.Right)
}

// ErrDivideByZero is raised by Div/Mod in strict mode; in non-strict
// mode they return Undefined for a zero divisor instead.
var ErrDivideByZero = fmt.Errorf("divide by zero")

// ErrModuloOnFloat is raised when %% is applied to a non-integer operand.
var ErrModuloOnFloat = fmt.Errorf("modulo on non-integer operand")

// Add implements the `+` operator per §4.2: Undefined on any Undefined
// operand, set union is NOT `+` (only `-` is overloaded for sets).
func Add(a, b Value) (Value, error) {
	if a.IsUndefined() || b.IsUndefined() {
		return Undefined, nil
	}
	if a.kind != KindNumber || b.kind != KindNumber {
		return Value{}, &ErrTypeMismatch{Op: "+", Left: a.kind, Right: b.kind}
	}
	if a.nk == numInt && b.nk == numInt {
		return Int(a.i + b.i), nil
	}
	return Float(a.n + b.n), nil
}

// Sub implements the `-` operator: set difference between two Sets,
// otherwise numeric subtraction.
func Sub(a, b Value) (Value, error) {
	if a.IsUndefined() || b.IsUndefined() {
		return Undefined, nil
	}
	if a.kind == KindSet && b.kind == KindSet {
		return a.SetDifference(b), nil
	}
	if a.kind != KindNumber || b.kind != KindNumber {
		return Value{}, &ErrTypeMismatch{Op: "-", Left: a.kind, Right: b.kind}
	}
	if a.nk == numInt && b.nk == numInt {
		return Int(a.i - b.i), nil
	}
	return Float(a.n - b.n), nil
}

// Mul implements the `*` operator.
func Mul(a, b Value) (Value, error) {
	if a.IsUndefined() || b.IsUndefined() {
		return Undefined, nil
	}
	if a.kind != KindNumber || b.kind != KindNumber {
		return Value{}, &ErrTypeMismatch{Op: "*", Left: a.kind, Right: b.kind}
	}
	if a.nk == numInt && b.nk == numInt {
		return Int(a.i * b.i), nil
	}
	return Float(a.n * b.n), nil
}

// Div implements the `/` operator. strict controls zero-divisor
// behaviour: strict raises ErrDivideByZero, non-strict yields Undefined.
func Div(a, b Value, strict bool) (Value, error) {
	if a.IsUndefined() || b.IsUndefined() {
		return Undefined, nil
	}
	if a.kind != KindNumber || b.kind != KindNumber {
		return Value{}, &ErrTypeMismatch{Op: "/", Left: a.kind, Right: b.kind}
	}
	if b.n == 0 {
		if strict {
			return Value{}, ErrDivideByZero
		}
		return Undefined, nil
	}
	return Float(a.n / b.n), nil
}

// Mod implements the `%` operator: integer-only, raises
// ErrModuloOnFloat for non-integer operands regardless of strict mode.
func Mod(a, b Value, strict bool) (Value, error) {
	if a.IsUndefined() || b.IsUndefined() {
		return Undefined, nil
	}
	if a.kind != KindNumber || b.kind != KindNumber {
		return Value{}, &ErrTypeMismatch{Op: "%", Left: a.kind, Right: b.kind}
	}
	if a.nk != numInt || b.nk != numInt {
		return Value{}, ErrModuloOnFloat
	}
	if b.i == 0 {
		if strict {
			return Value{}, ErrDivideByZero
		}
		return Undefined, nil
	}
	return Int(a.i % b.i), nil
}

// CompareOp is one of the six comparison operators.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// CompareValues implements `== != < <= > >=` per §4.2: Undefined
// propagates from either operand; in strict mode comparing different
// type discriminants (other than Eq/Ne) raises.
func CompareValues(op CompareOp, a, b Value, strict bool) (Value, error) {
	if a.IsUndefined() || b.IsUndefined() {
		return Undefined, nil
	}
	if a.kind != b.kind && op != OpEq && op != OpNe {
		if strict {
			return Value{}, &ErrTypeMismatch{Op: "compare", Left: a.kind, Right: b.kind}
		}
	}
	c := Compare(a, b)
	var result bool
	switch op {
	case OpEq:
		result = c == 0 && a.kind == b.kind
	case OpNe:
		result = c != 0 || a.kind != b.kind
	case OpLt:
		result = c < 0
	case OpLe:
		result = c <= 0
	case OpGt:
		result = c > 0
	case OpGe:
		result = c >= 0
	}
	return Bool(result), nil
}

// And implements the `and` boolean operator: both operands must be
// boolean (null counts as true in non-strict mode per §4.2).
func And(a, b Value, strict bool) (Value, error) {
	av, err := IsTruthy(a, strict)
	if err != nil {
		return Value{}, err
	}
	bv, err := IsTruthy(b, strict)
	if err != nil {
		return Value{}, err
	}
	return Bool(av && bv), nil
}

// Or implements the `or` boolean operator.
func Or(a, b Value, strict bool) (Value, error) {
	av, err := IsTruthy(a, strict)
	if err != nil {
		return Value{}, err
	}
	bv, err := IsTruthy(b, strict)
	if err != nil {
		return Value{}, err
	}
	return Bool(av || bv), nil
}

// Not implements negation-as-failure: Undefined negates to true;
// otherwise it is boolean negation.
func Not(a Value, strict bool) (Value, error) {
	if a.IsUndefined() {
		return True, nil
	}
	av, err := IsTruthy(a, strict)
	if err != nil {
		return Value{}, err
	}
	return Bool(!av), nil
}

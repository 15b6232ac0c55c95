package value_test

import (
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/regovm/engine/value"
)

func TestOrderingAcrossKinds(t *testing.T) {
	vals := []value.Value{
		value.Undefined,
		value.EmptyObject(),
		value.EmptySet(),
		value.EmptyArray(),
		value.String("x"),
		value.Int(1),
		value.True,
		value.Null,
	}
	for i := 1; i < len(vals); i++ {
		if value.Compare(vals[i], vals[i-1]) >= 0 {
			t.Fatalf("expected %v < %v in kind order", vals[i], vals[i-1])
		}
	}
}

func TestUint64AndNumberStringAreIntegerLike(t *testing.T) {
	u := value.Uint64(18446744073709551615)
	if !u.IsInt() || !u.IsUint64() {
		t.Fatalf("expected Uint64 value to be integer-like, got %v", u)
	}
	if u.Uint64() != 18446744073709551615 {
		t.Fatalf("expected uint64 payload to round-trip, got %d", u.Uint64())
	}

	dec := value.NumberString("123456789012345678901234567890")
	if dec.IsInt() {
		t.Fatalf("expected NumberString to not be IsInt, got %v", dec)
	}
	if !dec.IsNumberString() || dec.DecimalString() != "123456789012345678901234567890" {
		t.Fatalf("expected decimal text to round-trip, got %v", dec)
	}
}

func TestNumberStringOrderingIsLexicographic(t *testing.T) {
	a := value.NumberString("123456789012345678901234567890")
	b := value.NumberString("999999999999999999999999999999")
	if value.Compare(a, b) >= 0 {
		t.Fatalf("expected %v < %v", a, b)
	}
	if !value.Equal(value.NumberString("42"), value.NumberString("42")) {
		t.Fatalf("expected identical decimal text to compare equal")
	}
}

func TestSetOrderedAndDeduped(t *testing.T) {
	s := value.EmptySet()
	s = s.SetAdd(value.String("b"))
	s = s.SetAdd(value.String("a"))
	s = s.SetAdd(value.String("a"))

	elems := s.SetElements()
	if len(elems) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(elems))
	}
	if elems[0].Str() != "a" || elems[1].Str() != "b" {
		t.Fatalf("expected ordered [a b], got %v", elems)
	}
}

func TestObjectSetReplacesExistingKey(t *testing.T) {
	o := value.EmptyObject()
	o = o.ObjectSet(value.String("k"), value.Int(1))
	o = o.ObjectSet(value.String("k"), value.Int(2))

	if got := o.ObjectGet(value.String("k")); got.Int64() != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
	if o.Len() != 1 {
		t.Fatalf("expected single entry, got %d", o.Len())
	}
}

func TestSetDifference(t *testing.T) {
	a := value.EmptySet().SetAdd(value.Int(1)).SetAdd(value.Int(2)).SetAdd(value.Int(3))
	b := value.EmptySet().SetAdd(value.Int(2))

	diff, err := value.Sub(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if diff.Kind() != value.KindSet {
		t.Fatalf("expected set result")
	}
	elems := diff.SetElements()
	if len(elems) != 2 || elems[0].Int64() != 1 || elems[1].Int64() != 3 {
		t.Fatalf("unexpected difference: %v", elems)
	}
}

func TestArithmeticUndefinedPropagates(t *testing.T) {
	ops := []func(a, b value.Value) (value.Value, error){
		value.Add,
		value.Sub,
		value.Mul,
		func(a, b value.Value) (value.Value, error) { return value.Div(a, b, false) },
		func(a, b value.Value) (value.Value, error) { return value.Mod(a, b, false) },
	}
	for _, op := range ops {
		got, err := op(value.Undefined, value.Int(1))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.IsUndefined() {
			t.Fatalf("expected undefined, got %v", got)
		}
	}
}

func TestDivModZeroNonStrictYieldsUndefined(t *testing.T) {
	if got, err := value.Div(value.Int(1), value.Int(0), false); err != nil || !got.IsUndefined() {
		t.Fatalf("expected undefined, got %v, %v", got, err)
	}
	if _, err := value.Div(value.Int(1), value.Int(0), true); err != value.ErrDivideByZero {
		t.Fatalf("expected ErrDivideByZero, got %v", err)
	}
}

func TestModOnFloatRaises(t *testing.T) {
	if _, err := value.Mod(value.Float(1.5), value.Int(1), false); err != value.ErrModuloOnFloat {
		t.Fatalf("expected ErrModuloOnFloat, got %v", err)
	}
}

func TestNotNegationAsFailure(t *testing.T) {
	got, err := value.Not(value.Undefined, false)
	if err != nil || !got.Bool() {
		t.Fatalf("expected true, got %v, %v", got, err)
	}
	got, err = value.Not(value.True, false)
	if err != nil || got.Bool() {
		t.Fatalf("expected false, got %v, %v", got, err)
	}
}

func TestNestedObjectArraySetEquality(t *testing.T) {
	build := func() value.Value {
		inner := value.EmptyObject().
			ObjectSet(value.String("tags"), value.Array(value.String("a"), value.String("b"))).
			ObjectSet(value.String("roles"), value.EmptySet().SetAdd(value.String("admin")).SetAdd(value.String("ops")))
		return value.EmptyObject().ObjectSet(value.String("user"), inner)
	}
	a, b := build(), build()
	if value.Compare(a, b) != 0 {
		t.Fatalf("expected deeply equal nested trees, got:\n%s\nvs\n%s", spew.Sdump(a), spew.Sdump(b))
	}
}

func TestCompareStrictTypeMismatchRaises(t *testing.T) {
	if _, err := value.CompareValues(value.OpLt, value.Int(1), value.String("a"), true); err == nil {
		t.Fatal("expected error in strict mode")
	}
	got, err := value.CompareValues(value.OpLt, value.Int(1), value.String("a"), false)
	if err != nil {
		t.Fatalf("unexpected error in non-strict mode: %v", err)
	}
	if !got.Bool() {
		t.Fatalf("expected Number < String via kind order, got %v", got)
	}
}

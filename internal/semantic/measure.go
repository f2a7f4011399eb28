package semantic

import (
	"semlayer/internal/expr"
)

// MeasureExpr is a calculated-measure formula node: a literal, a reference
// to a measure or another calculated measure, a grand total of a base
// measure, or a binary arithmetic combination.
type MeasureExpr interface {
	isMeasureExpr()
}

// MeasureLit is a numeric constant.
type MeasureLit struct {
	Value float64
}

// MeasureRef references a measure or calculated measure by name, resolved
// in the enclosing namespace at compile time.
type MeasureRef struct {
	Name string
}

// GrandTotalOf references the all-rows aggregate of a base measure,
// broadcast to every output row regardless of group keys.
type GrandTotalOf struct {
	Ref MeasureRef
}

// MeasureBinaryOp is one of add, sub, mul, div.
type MeasureBinaryOp string

const (
	MeasureAdd MeasureBinaryOp = "add"
	MeasureSub MeasureBinaryOp = "sub"
	MeasureMul MeasureBinaryOp = "mul"
	MeasureDiv MeasureBinaryOp = "div"
)

// MeasureBinary combines two formula operands.
type MeasureBinary struct {
	Op    MeasureBinaryOp
	Left  MeasureExpr
	Right MeasureExpr
}

func (MeasureLit) isMeasureExpr()    {}
func (MeasureRef) isMeasureExpr()    {}
func (GrandTotalOf) isMeasureExpr()  {}
func (MeasureBinary) isMeasureExpr() {}

// Ratio builds the common a/b formula.
func Ratio(num, den string) MeasureExpr {
	return MeasureBinary{Op: MeasureDiv, Left: MeasureRef{Name: num}, Right: MeasureRef{Name: den}}
}

// ShareOfTotal builds m / GrandTotalOf(m).
func ShareOfTotal(m string) MeasureExpr {
	return MeasureBinary{
		Op:    MeasureDiv,
		Left:  MeasureRef{Name: m},
		Right: GrandTotalOf{Ref: MeasureRef{Name: m}},
	}
}

// measureNeeds is the transitive closure of base measures a formula pulls
// in: Base are references that must be pre-aggregated at the query grain,
// Totals those whose grand total must additionally be broadcast.
type measureNeeds struct {
	Base   []string
	Totals []string
}

// neededBaseMeasures walks a formula collecting every base measure it
// depends on, recursing through referenced calculated measures. A reference
// chain that revisits a calculated measure is a CircularMeasureError; an
// unresolvable reference is an UnknownFieldError; a GrandTotalOf wrapping
// anything but a base measure is a MalformedFilterSpecError.
func (m *Model) neededBaseMeasures(name string, e MeasureExpr) (measureNeeds, error) {
	needs := measureNeeds{}
	seenBase := map[string]bool{}
	seenTotal := map[string]bool{}
	visiting := map[string]bool{name: true}

	var walk func(e MeasureExpr) error
	walk = func(e MeasureExpr) error {
		switch n := e.(type) {
		case MeasureLit:
			return nil
		case MeasureRef:
			ref, err := m.Resolve(n.Name)
			if err != nil {
				return err
			}
			switch ref.Kind {
			case KindMeasure:
				if !seenBase[ref.Name] {
					seenBase[ref.Name] = true
					needs.Base = append(needs.Base, ref.Name)
				}
				return nil
			case KindCalculated:
				if visiting[ref.Name] {
					return ErrCircularMeasure("calculated measure %q is part of a reference cycle", ref.Name)
				}
				visiting[ref.Name] = true
				err := walk(ref.Calc.Expr)
				delete(visiting, ref.Name)
				return err
			default:
				return ErrUnknownField("formula reference %q resolves to a dimension, expected a measure", n.Name)
			}
		case GrandTotalOf:
			ref, err := m.Resolve(n.Ref.Name)
			if err != nil {
				return err
			}
			if ref.Kind != KindMeasure {
				return ErrMalformedFilterSpec("grand total must wrap a base measure, %q is not one", n.Ref.Name)
			}
			if !seenTotal[ref.Name] {
				seenTotal[ref.Name] = true
				needs.Totals = append(needs.Totals, ref.Name)
			}
			return nil
		case MeasureBinary:
			if err := walk(n.Left); err != nil {
				return err
			}
			return walk(n.Right)
		default:
			return ErrMalformedFilterSpec("unsupported formula node %T", e)
		}
	}

	if err := walk(e); err != nil {
		return measureNeeds{}, err
	}
	return needs, nil
}

// grandTotalAlias names the broadcast column carrying a base measure's
// grand total in the combined relation.
func grandTotalAlias(measure string) string {
	return "__total__" + measure
}

// evaluateFormula lowers a formula to a scalar expression over the combined
// relation: measure references become their pre-aggregated columns, grand
// totals their broadcast columns, and division casts both operands to
// DOUBLE so integer-valued sums still divide fractionally.
func (m *Model) evaluateFormula(e MeasureExpr) (expr.Expr, error) {
	switch n := e.(type) {
	case MeasureLit:
		return expr.Lit(n.Value), nil
	case MeasureRef:
		ref, err := m.Resolve(n.Name)
		if err != nil {
			return nil, err
		}
		if ref.Kind == KindCalculated {
			return m.evaluateFormula(ref.Calc.Expr)
		}
		return expr.Col(ref.Name), nil
	case GrandTotalOf:
		ref, err := m.Resolve(n.Ref.Name)
		if err != nil {
			return nil, err
		}
		return expr.Col(grandTotalAlias(ref.Name)), nil
	case MeasureBinary:
		left, err := m.evaluateFormula(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := m.evaluateFormula(n.Right)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case MeasureAdd:
			return expr.Binary{Op: expr.OpAdd, Left: left, Right: right}, nil
		case MeasureSub:
			return expr.Binary{Op: expr.OpSub, Left: left, Right: right}, nil
		case MeasureMul:
			return expr.Binary{Op: expr.OpMul, Left: left, Right: right}, nil
		case MeasureDiv:
			return expr.Binary{
				Op:    expr.OpDiv,
				Left:  expr.Cast{Type: "DOUBLE", Expr: left},
				Right: expr.Cast{Type: "DOUBLE", Expr: right},
			}, nil
		default:
			return nil, ErrMalformedFilterSpec("unsupported formula operator %q", n.Op)
		}
	default:
		return nil, ErrMalformedFilterSpec("unsupported formula node %T", e)
	}
}

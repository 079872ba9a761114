package schema

import "logparsely/internal/ddl"

// Action is the outcome of reconciling an observed type with a declared one.
type Action uint8

const (
	// Keep stores the value natively.
	Keep Action = iota
	// Widen promotes an integer column to float, then stores natively.
	Widen
	// AsText stores the value's text form for this row only. The declared
	// type is left alone.
	AsText
)

func (a Action) String() string {
	switch a {
	case Keep:
		return "keep"
	case Widen:
		return "widen"
	default:
		return "as_text"
	}
}

// Reconcile decides how a value of type observed is stored in a column
// declared as declared.
//
//	declared  observed  action
//	any       null      keep
//	T         T         keep
//	float     integer   keep
//	integer   float     widen
//	otherwise           as_text
func Reconcile(declared, observed ddl.Type) Action {
	switch {
	case observed == ddl.TypeNull, declared == observed:
		return Keep
	case declared == ddl.TypeFloat && observed == ddl.TypeInteger:
		return Keep
	case declared == ddl.TypeInteger && observed == ddl.TypeFloat:
		return Widen
	default:
		return AsText
	}
}

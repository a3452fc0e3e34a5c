package network

// Decision is the action resolve takes for the canonical network.
type Decision int

const (
	// DecisionCreate: the network does not exist yet.
	DecisionCreate Decision = iota + 1
	// DecisionReuse: the network exists with the desired settings.
	DecisionReuse
	// DecisionRecreate: the network exists with an immutable setting that
	// differs from the desired one and must be removed first.
	DecisionRecreate
)

func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionReuse:
		return "reuse"
	case DecisionRecreate:
		return "recreate"
	default:
		return "unknown"
	}
}

// Decide compares the existing network against the desired dual-stack flag.
// A nil existing means the network was not found. The dual-stack flag is
// the only migration trigger; membership never forces a recreate.
func Decide(existing *Attributes, enableIPv6 bool) Decision {
	if existing == nil {
		return DecisionCreate
	}
	if existing.EnableIPv6 == enableIPv6 {
		return DecisionReuse
	}
	return DecisionRecreate
}

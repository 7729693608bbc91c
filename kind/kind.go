// Package kind defines the element-kind taxonomy of the statechart model.
//
// A kind is a uint64 holding up to eight 8-bit ids: the element's own id in
// the low byte and the ids of its base kinds above it. IsKind therefore
// answers subsumption queries ("is a DeepHistory a History? a Pseudostate?
// a Vertex?") with shifts and masks instead of a type switch.
package kind

const (
	length   = 64
	idLength = 8
	depthMax = length / idLength
	idMask   = (1 << idLength) - 1
)

// Bases returns the base ids packed above the element's own id.
func Bases(kind uint64) [depthMax]uint64 {
	var bases [depthMax]uint64
	for i := 1; i < depthMax; i++ {
		bases[i-1] = (kind >> (idLength * i)) & idMask
	}
	return bases
}

// Make builds a kind value from an id and the kinds it specializes.
func Make(id uint64, bases ...uint64) uint64 {
	id = id & idMask
	ids := make(map[uint64]struct{})
	for _, base := range bases {
		for j := 0; j < depthMax; j++ {
			baseId := (base >> (idLength * j)) & idMask
			if baseId == 0 {
				break
			}
			if _, ok := ids[baseId]; !ok {
				ids[baseId] = struct{}{}
				id |= baseId << (idLength * len(ids))
			}
		}
	}
	return id
}

// IsKind reports whether kind matches any of the given bases, either
// directly or through its base chain.
func IsKind(kind uint64, bases ...uint64) bool {
	for _, base := range bases {
		baseId := base & idMask
		if kind == baseId {
			return true
		}
		for i := 0; i < depthMax; i++ {
			currentId := (kind >> (idLength * i)) & idMask
			if currentId == baseId {
				return true
			}
		}
	}
	return false
}

var (
	Null       = Make(0)
	Element    = Make(1)
	Vertex     = Make(2, Element)
	Constraint = Make(3, Element)
	Behavior   = Make(4, Element)

	StateMachine = Make(5, Behavior)
	State        = Make(6, Vertex)
	Parallel     = Make(7, State)
	Final        = Make(8, Vertex)

	Transition = Make(9, Element)
	Internal   = Make(10, Transition)
	External   = Make(11, Transition)
	Local      = Make(12, Transition)
	Self       = Make(13, Transition)

	Event           = Make(14, Element)
	CompletionEvent = Make(15, Event)
	TimeEvent       = Make(16, Event)

	Concurrent = Make(17, Behavior)

	Pseudostate    = Make(18, Vertex)
	Initial        = Make(19, Pseudostate)
	Terminate      = Make(20, Pseudostate)
	Junction       = Make(21, Pseudostate)
	History        = Make(22, Pseudostate)
	ShallowHistory = Make(23, History)
	DeepHistory    = Make(24, History)
)

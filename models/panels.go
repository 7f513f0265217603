package models

// Panel names a region of the car blueprint.
type Panel string

const (
	FrontBumper    Panel = "front-bumper"
	Hood           Panel = "hood"
	Headlights     Panel = "headlights"
	Roof           Panel = "roof"
	FrontLeftDoor  Panel = "front-left-door"
	FrontRightDoor Panel = "front-right-door"
	RearLeftDoor   Panel = "rear-left-door"
	RearRightDoor  Panel = "rear-right-door"
	Trunk          Panel = "trunk"
	RearBumper     Panel = "rear-bumper"
)

// AllPanels is the blueprint order used for every PanelSet.
var AllPanels = []Panel{
	FrontBumper,
	Hood,
	Headlights,
	Roof,
	FrontLeftDoor,
	FrontRightDoor,
	RearLeftDoor,
	RearRightDoor,
	Trunk,
	RearBumper,
}

func panelIndex(p Panel) int {
	for i, q := range AllPanels {
		if p == q {
			return i
		}
	}
	return -1
}

// PanelSet is a duplicate free set of panels kept in blueprint order.
type PanelSet []Panel

// NewPanelSet builds a set from panels in any order. Unknown panels are dropped.
func NewPanelSet(panels ...Panel) PanelSet {
	var seen [16]bool
	for _, p := range panels {
		if i := panelIndex(p); i >= 0 {
			seen[i] = true
		}
	}
	set := make(PanelSet, 0, len(panels))
	for i, p := range AllPanels {
		if seen[i] {
			set = append(set, p)
		}
	}
	return set
}

func (s PanelSet) Count() int {
	return len(s)
}

func (s PanelSet) Contains(p Panel) bool {
	for _, q := range s {
		if q == p {
			return true
		}
	}
	return false
}

// Equal compares two sets. Both are assumed to be in blueprint order.
func (s PanelSet) Equal(other PanelSet) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func (s PanelSet) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = string(p)
	}
	return out
}

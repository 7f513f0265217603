// Package blueprint maps damage coordinates onto the panels of a fixed car
// schematic and tracks which panels are currently highlighted.
package blueprint

import (
	"fmt"
	"strings"

	"github.com/Tutortoise/damage-inspection-service/models"
)

type Strategy int

const (
	// YBanded splits the car along y into seven bands, rear first, and uses
	// x only to pick the side inside the two door bands.
	YBanded Strategy = iota
	// XOnly splits the car along x into front, cabin and rear thirds.
	XOnly
)

func (s Strategy) String() string {
	switch s {
	case YBanded:
		return "y-banded"
	case XOnly:
		return "x-only"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "y-banded", "y_banded", "y", "banded":
		return YBanded, nil
	case "x-only", "x_only", "x":
		return XOnly, nil
	}
	return YBanded, fmt.Errorf("unknown panel strategy %q", s)
}

// Mapper turns a normalized coordinate into the panels it lands on. Every
// input, in range or not, maps to a non-empty set.
type Mapper interface {
	Map(x, y float32) models.PanelSet
}

func New(s Strategy) Mapper {
	if s == XOnly {
		return xOnly{}
	}
	return yBanded{}
}

// Band edges. Out of range inputs fall through to the first or last band.
const (
	rearBumperEdge = 0.2
	trunkEdge      = 0.35
	rearDoorsEdge  = 0.5
	roofEdge       = 0.65
	frontDoorsEdge = 0.8
	hoodEdge       = 0.9
	sideEdge       = 0.5

	frontThird = float32(1.0 / 3.0)
	cabinThird = float32(2.0 / 3.0)
)

type yBanded struct{}

func (yBanded) Map(x, y float32) models.PanelSet {
	switch {
	case y < rearBumperEdge:
		return models.PanelSet{models.RearBumper}
	case y < trunkEdge:
		return models.PanelSet{models.Trunk}
	case y < rearDoorsEdge:
		if x < sideEdge {
			return models.PanelSet{models.RearLeftDoor}
		}
		return models.PanelSet{models.RearRightDoor}
	case y < roofEdge:
		return models.PanelSet{models.Roof}
	case y < frontDoorsEdge:
		if x < sideEdge {
			return models.PanelSet{models.FrontLeftDoor}
		}
		return models.PanelSet{models.FrontRightDoor}
	case y < hoodEdge:
		return models.PanelSet{models.Hood}
	default:
		return models.PanelSet{models.FrontBumper}
	}
}

type xOnly struct{}

func (xOnly) Map(x, _ float32) models.PanelSet {
	switch {
	case x < frontThird:
		return models.NewPanelSet(models.Hood, models.FrontBumper, models.Headlights)
	case x < cabinThird:
		return models.NewPanelSet(
			models.Roof,
			models.FrontLeftDoor,
			models.FrontRightDoor,
			models.RearLeftDoor,
			models.RearRightDoor,
		)
	default:
		return models.NewPanelSet(models.Trunk, models.RearBumper)
	}
}

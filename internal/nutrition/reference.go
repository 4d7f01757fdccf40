package nutrition

import (
	"fmt"
	"strings"
)

// ReferenceObject is an item of known size the user placed next to the food.
type ReferenceObject string

const (
	ReferenceNone       ReferenceObject = "none"
	ReferenceCoin       ReferenceObject = "coin"
	ReferencePhone      ReferenceObject = "phone"
	ReferenceHand       ReferenceObject = "hand"
	ReferenceChopsticks ReferenceObject = "chopsticks"
)

// ReferenceObjects lists every selectable reference object in menu order.
var ReferenceObjects = []ReferenceObject{
	ReferenceNone,
	ReferenceCoin,
	ReferencePhone,
	ReferenceHand,
	ReferenceChopsticks,
}

type calibration struct {
	label     string // shown to the user
	object    string // how the prompt names the object
	dimension string // known physical size
}

var calibrations = map[ReferenceObject]calibration{
	ReferenceNone:       {label: "無"},
	ReferenceCoin:       {label: "硬幣", object: "a coin", dimension: "about 2.6 cm in diameter"},
	ReferencePhone:      {label: "手機", object: "a smartphone", dimension: "about 15 cm long and 7 cm wide"},
	ReferenceHand:       {label: "手掌", object: "an adult hand", dimension: "palm about 8.5 cm wide, about 18 cm from wrist to fingertip"},
	ReferenceChopsticks: {label: "筷子", object: "a pair of chopsticks", dimension: "about 23 cm long"},
}

// ParseReferenceObject parses a reference object name. Empty input means none.
func ParseReferenceObject(s string) (ReferenceObject, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ReferenceNone, nil
	}
	ref := ReferenceObject(s)
	if _, ok := calibrations[ref]; !ok {
		return "", fmt.Errorf("unknown reference object %q", s)
	}
	return ref, nil
}

// Valid reports whether r is one of the known reference objects.
func (r ReferenceObject) Valid() bool {
	_, ok := calibrations[r]
	return ok
}

// Label returns the user facing name.
func (r ReferenceObject) Label() string {
	if c, ok := calibrations[r]; ok {
		return c.label
	}
	return string(r)
}

// Calibration returns the prompt description of the object and its known
// dimension. ok is false for none and unknown values.
func (r ReferenceObject) Calibration() (object, dimension string, ok bool) {
	c, found := calibrations[r]
	if !found || r == ReferenceNone {
		return "", "", false
	}
	return c.object, c.dimension, true
}

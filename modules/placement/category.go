// Package placement maps a jewelry category and one frame of landmarks to
// the transform at which the model is drawn.
//
// Everything here is pure: no camera, GPU or detector is needed to test it.
package placement

import (
	"strings"

	"github.com/meit-swami/jewellery/modules/landmarks"
)

// Category is the jewelry kind a session places.
type Category int

const (
	Unknown Category = iota
	Ring
	Necklace
	Earring
	Bracelet
	Anklet
	Tiara
)

// Categories lists every supported category (Unknown excluded).
var Categories = []Category{Ring, Necklace, Earring, Bracelet, Anklet, Tiara}

func (c Category) String() string {
	switch c {
	case Ring:
		return "ring"
	case Necklace:
		return "necklace"
	case Earring:
		return "earring"
	case Bracelet:
		return "bracelet"
	case Anklet:
		return "anklet"
	case Tiara:
		return "tiara"
	default:
		return "unknown"
	}
}

// categoryKeys is the ordered substring dispatch table. "earring" contains
// "ring" and must be tested first: a ring-first order would classify every
// earring as a ring, so this order deliberately puts earring ahead of it.
var categoryKeys = []struct {
	key      string
	category Category
}{
	{"earring", Earring},
	{"ring", Ring},
	{"necklace", Necklace},
	{"bracelet", Bracelet},
	{"anklet", Anklet},
	{"tiara", Tiara},
	{"crown", Tiara},
}

// ParseCategory matches the lower-cased product category name against the
// dispatch keys. First match wins; no match is Unknown.
func ParseCategory(name string) Category {
	lower := strings.ToLower(name)
	for _, k := range categoryKeys {
		if strings.Contains(lower, k.key) {
			return k.category
		}
	}
	return Unknown
}

// Requirement returns the landmark collections the category needs.
// Every supported category needs exactly one collection; Unknown needs none.
func Requirement(c Category) landmarks.Set {
	if r, ok := rules[c]; ok {
		return r.source
	}
	return 0
}

// Hint returns the on-screen instruction for the category.
func Hint(c Category) string {
	switch c {
	case Ring:
		return "Show your hand with fingers spread"
	case Necklace:
		return "Face the camera directly"
	case Earring:
		return "Face the camera, show your ear"
	case Bracelet:
		return "Show your wrist to the camera"
	case Anklet:
		return "Show your ankle to the camera"
	case Tiara:
		return "Face the camera directly, keep head still"
	default:
		return "Position yourself in frame"
	}
}

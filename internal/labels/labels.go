// Package labels holds the candidate action classes shared by every
// classification call.
package labels

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

var actions = []string{
	"abseiling",
	"applauding",
	"applying cream",
	"baby waking up",
	"balloon blowing",
	"bandaging",
	"bench pressing",
	"blasting sand",
	"canoeing or kayaking",
	"capoeira",
	"changing oil",
	"changing wheel",
	"cooking on campfire",
	"dancing ballet",
	"dancing charleston",
	"dancing macarena",
	"doing nails",
	"driving car",
	"dunking basketball",
	"feeding goats",
	"fixing hair",
	"frying vegetables",
	"hurdling",
	"javelin throw",
	"jogging",
	"juggling soccer ball",
	"laughing",
	"laying bricks",
	"lunge",
	"making snowman",
	"moving furniture",
	"plastering",
	"playing badminton",
	"playing chess",
	"playing didgeridoo",
	"playing keyboard",
	"playing trombone",
	"playing xylophone",
	"pole vault",
	"pumping fist",
	"pushing wheelchair",
	"riding elephant",
	"riding mountain bike",
	"riding unicycle",
	"ripping paper",
	"sharpening knives",
	"shuffling cards",
	"sign language interpreting",
	"skateboarding",
	"snatch weight lifting",
	"snorkeling",
	"spray painting",
	"squat",
	"swinging legs",
	"tango dancing",
	"trimming or shaving beard",
	"tying bow tie",
	"unloading truck",
	"vault",
	"waiting in line",
}

// Set is an ordered, immutable collection of candidate labels.
type Set struct {
	names []string
	index map[string]int
}

// Default returns the 60 action classes the corpus is labelled against.
func Default() Set {
	s, _ := New(actions)
	return s
}

// New builds a label set, rejecting blanks and duplicates.
func New(names []string) (Set, error) {
	if len(names) == 0 {
		return Set{}, fmt.Errorf("label set is empty")
	}
	fold := cases.Fold()
	s := Set{
		names: make([]string, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return Set{}, fmt.Errorf("label set contains a blank label")
		}
		key := fold.String(name)
		if _, dup := s.index[key]; dup {
			return Set{}, fmt.Errorf("duplicate label %q", name)
		}
		s.index[key] = len(s.names)
		s.names = append(s.names, name)
	}
	return s, nil
}

// Names returns a copy of the labels in order.
func (s Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of labels.
func (s Set) Len() int { return len(s.names) }

// Index returns the position of label in the set.
func (s Set) Index(label string) (int, bool) {
	i, ok := s.index[cases.Fold().String(strings.TrimSpace(label))]
	return i, ok
}

// Match resolves free text produced by a model to the canonical label.
// Matching ignores case and surrounding whitespace and quotes.
func (s Set) Match(answer string) (string, bool) {
	answer = strings.Trim(strings.TrimSpace(answer), "\"'.`")
	i, ok := s.Index(answer)
	if !ok {
		return "", false
	}
	return s.names[i], true
}

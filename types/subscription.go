package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/justapithecus/livefeed/lserr"
)

// AllSymbols subscribes to every symbol in the dataset.
const AllSymbols = "ALL_SYMBOLS"

// Subscription is a caller request for records.
// Symbols keep their order and duplicates are preserved.
type Subscription struct {
	// Symbols is the ordered list of symbols to subscribe to.
	Symbols []string `yaml:"symbols" json:"symbols"`
	// Schema is the record schema to receive.
	Schema Schema `yaml:"schema" json:"schema"`
	// STypeIn is the symbology of Symbols.
	STypeIn SType `yaml:"stype_in" json:"stype_in"`
	// Start requests intraday replay from this time. Zero means live only.
	Start time.Time `yaml:"start,omitempty" json:"start,omitempty"`
	// Snapshot requests a book snapshot before live data.
	Snapshot bool `yaml:"snapshot,omitempty" json:"snapshot,omitempty"`
}

// HasStart reports whether the subscription requests replay.
func (s Subscription) HasStart() bool {
	return !s.Start.IsZero()
}

// Validate checks the subscription before any bytes are sent.
func (s Subscription) Validate() error {
	if len(s.Symbols) == 0 {
		return lserr.BadArgument("symbols", "must contain at least one symbol")
	}
	for i, sym := range s.Symbols {
		if sym == "" {
			return lserr.BadArgument("symbols", fmt.Sprintf("symbol %d is empty", i))
		}
		// delimiters would corrupt the control line
		if strings.ContainsAny(sym, ",|\n\r") {
			return lserr.BadArgument("symbols", fmt.Sprintf("symbol %q contains a reserved character", sym))
		}
	}
	if !s.Schema.Valid() {
		return lserr.BadArgument("schema", fmt.Sprintf("unknown schema %q", s.Schema))
	}
	if !s.STypeIn.Valid() {
		return lserr.BadArgument("stype_in", fmt.Sprintf("unknown stype %q", s.STypeIn))
	}
	if s.Snapshot && s.HasStart() {
		return lserr.BadArgument("snapshot", "cannot request a snapshot together with a start time")
	}
	return nil
}

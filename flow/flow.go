// Package flow defines the static configuration of synchronization pipelines:
// which source tab feeds a flow, which of its fields are required, how source
// columns project into the destination table, and which fields compose a row's
// durable identity for deduplication. Specs are built at configuration time
// and never mutated afterward.
package flow

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"

	"go.gridsync.dev/core/grid"
)

// Strategy selects the dedup mechanism of a flow. It is fixed at
// configuration time and never switched at runtime.
type Strategy string

const (
	// CursorStrategy tracks the highest source position fully accounted for.
	// Seen-ness is purely positional; each source row is scanned at most once.
	CursorStrategy Strategy = "cursor"
	// RowFlagStrategy writes a sentinel into a reserved column of the source
	// row itself once the row has been mirrored.
	RowFlagStrategy Strategy = "rowflag"
	// KeyIndexStrategy records identity hashes of mirrored rows in a durable
	// side table.
	KeyIndexStrategy Strategy = "keyindex"
)

// keySeparator joins identity-field values. U+241F (symbol for unit
// separator) cannot appear in normal cell text.
const keySeparator = "␟"

// Spec describes one synchronization pipeline. All positions are 1-based.
type Spec struct {
	// Name of the flow, used in state keys and logging.
	Name string `yaml:"name"`
	// Tab is the source worksheet title this flow reads.
	Tab string `yaml:"tab"`
	// HeaderDepth is the count of header rows preceding data.
	HeaderDepth int `yaml:"header_depth"`
	// Required source positions which must all be non-empty (after trimming)
	// for a row to qualify for mirroring.
	Required []int `yaml:"required"`
	// Mapping of source position to destination position.
	Mapping map[int]int `yaml:"mapping"`
	// Statics are constant values injected at destination positions.
	Statics map[int]string `yaml:"statics"`
	// Identity positions compose a row's durable identity. If empty,
	// Required positions are used.
	Identity []int `yaml:"identity"`
	// Strategy is the dedup mechanism of this flow.
	Strategy Strategy `yaml:"strategy"`
	// FlagColumn is the reserved source column which RowFlagStrategy writes
	// its sentinel into.
	FlagColumn int `yaml:"flag_column"`
}

// DataStart returns the first data row of the flow's source tab.
func (s *Spec) DataStart() int { return s.HeaderDepth + 1 }

// IdentityFields returns the positions composing a row's identity,
// defaulting to Required when unset.
func (s *Spec) IdentityFields() []int {
	if len(s.Identity) != 0 {
		return s.Identity
	}
	return s.Required
}

// MaxSourceColumn returns the right-most source column the flow touches,
// folding in the flag column so flag state rides along with data reads.
func (s *Spec) MaxSourceColumn() int {
	var max = s.FlagColumn
	for src := range s.Mapping {
		if src > max {
			max = src
		}
	}
	for _, c := range s.Required {
		if c > max {
			max = c
		}
	}
	for _, c := range s.Identity {
		if c > max {
			max = c
		}
	}
	if max < 1 {
		max = 1
	}
	return max
}

// MaxDestColumn returns the right-most destination column the flow writes.
func (s *Spec) MaxDestColumn() int {
	var max int
	for _, dst := range s.Mapping {
		if dst > max {
			max = dst
		}
	}
	for dst := range s.Statics {
		if dst > max {
			max = dst
		}
	}
	return max
}

// RowValid returns whether every required position of |row| is non-empty
// after trimming surrounding whitespace.
func (s *Spec) RowValid(row grid.Row) bool {
	for _, c := range s.Required {
		if strings.TrimSpace(row.Cell(c)) == "" {
			return false
		}
	}
	return true
}

// MapRow projects |row| into a destination row of exactly |width| cells,
// applying statics then mapped fields. Out-of-range source positions map to
// the empty string; missing data is a validity concern of RowValid, never an
// error of MapRow.
func (s *Spec) MapRow(row grid.Row, width int) []string {
	var out = make([]string, width)
	for dst, val := range s.Statics {
		if dst >= 1 && dst <= width {
			out[dst-1] = val
		}
	}
	for src, dst := range s.Mapping {
		if dst >= 1 && dst <= width {
			out[dst-1] = row.Cell(src)
		}
	}
	return out
}

// IdentityKey computes the durable identity hash of |row| within the given
// source and flow: a SHA-1 digest over trimmed identity-field values joined
// by a separator absent from normal text, prefixed with source and flow so
// identical rows of distinct sources don't collide.
func (s *Spec) IdentityKey(sourceID string, row grid.Row) string {
	var parts = []string{sourceID, s.Name}
	for _, c := range s.IdentityFields() {
		parts = append(parts, strings.TrimSpace(row.Cell(c)))
	}
	var sum = sha1.Sum([]byte(strings.Join(parts, keySeparator)))
	return hex.EncodeToString(sum[:])
}

// Validate returns an error if the Spec is malformed.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return errors.New("flow name is required")
	} else if s.Tab == "" {
		return errors.Errorf("flow %s: tab is required", s.Name)
	} else if s.HeaderDepth < 0 {
		return errors.Errorf("flow %s: header_depth cannot be negative", s.Name)
	} else if len(s.Required) == 0 {
		return errors.Errorf("flow %s: at least one required field is needed", s.Name)
	} else if len(s.Mapping) == 0 {
		return errors.Errorf("flow %s: mapping cannot be empty", s.Name)
	}

	for _, c := range s.Required {
		if c < 1 {
			return errors.Errorf("flow %s: required position %d is not 1-based", s.Name, c)
		}
	}
	for _, c := range s.Identity {
		if c < 1 {
			return errors.Errorf("flow %s: identity position %d is not 1-based", s.Name, c)
		}
	}
	for src, dst := range s.Mapping {
		if src < 1 || dst < 1 {
			return errors.Errorf("flow %s: mapping %d->%d is not 1-based", s.Name, src, dst)
		}
	}
	for dst := range s.Statics {
		if dst < 1 {
			return errors.Errorf("flow %s: static position %d is not 1-based", s.Name, dst)
		}
	}

	switch s.Strategy {
	case CursorStrategy, KeyIndexStrategy:
		// Pass.
	case RowFlagStrategy:
		if s.FlagColumn < 1 {
			return errors.Errorf("flow %s: rowflag strategy requires flag_column", s.Name)
		}
	default:
		return errors.Errorf("flow %s: unknown strategy %q", s.Name, s.Strategy)
	}
	return nil
}

// DestinationWidth returns the fixed width of destination rows: the maximum
// mapped or static destination position across |flows|, or |min| if larger.
func DestinationWidth(flows []Spec, min int) int {
	var width = min
	for i := range flows {
		if c := flows[i].MaxDestColumn(); c > width {
			width = c
		}
	}
	return width
}

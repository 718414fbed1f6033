package flow

// DefaultFlagColumn is the reserved source column used for write-back dedup
// flags when a flow doesn't configure its own. It sits far to the right of
// any mapped data column.
const DefaultFlagColumn = 30

// Builtins returns the two flows of the ticket-mirror deployment:
// the live ticket feed and the LinkedIn view feed. |strategy| and |flagCol|
// apply uniformly to both.
func Builtins(strategy Strategy, flagCol int) []Spec {
	if flagCol < 1 {
		flagCol = DefaultFlagColumn
	}
	return []Spec{
		{
			Name:        "all-tickets",
			Tab:         "ALL TICKETS (LIVE)",
			HeaderDepth: 3,
			Required:    []int{2, 3},
			Mapping:     map[int]int{1: 1, 3: 2, 10: 5, 2: 6, 11: 7, 12: 8, 4: 16},
			Identity:    []int{2, 3},
			Strategy:    strategy,
			FlagColumn:  flagCol,
		},
		{
			Name:        "linkedin-views",
			Tab:         "LINKEDIN VIEWS (LIVE)",
			HeaderDepth: 2,
			Required:    []int{2, 3, 4},
			Mapping:     map[int]int{1: 1, 2: 6, 3: 2, 5: 8, 4: 3},
			Statics:     map[int]string{5: "LinkedIn - LX", 7: "DD"},
			Identity:    []int{2, 3, 4},
			Strategy:    strategy,
			FlagColumn:  flagCol,
		},
	}
}

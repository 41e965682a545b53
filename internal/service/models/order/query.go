package order

import "time"

// QueryOrdersModel represents filter parameters for querying orders
type QueryOrdersModel struct {
	Ids         []int64  `json:"ids,omitempty"`
	CustomerIds []string `json:"customerIds,omitempty"`
	States      []State  `json:"states,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Offset      int      `json:"offset,omitempty"`
}

// ExpiryCandidatesModel selects orders whose payment window has closed.
type ExpiryCandidatesModel struct {
	Now time.Time
	// GatewayCutoff is now minus the gateway abandonment grace period.
	GatewayCutoff time.Time
	Limit         int
}

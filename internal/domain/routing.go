package domain

// RoutingRequest are the inputs of GetRoutingRecommendation.
type RoutingRequest struct {
	Task         string   `json:"task"`
	CurrentState string   `json:"current_state,omitempty"`
	Constraints  []string `json:"constraints,omitempty"`
}

// Alternative is a ranked candidate that was not chosen.
type Alternative struct {
	Workflow     string   `json:"workflow"`
	Agents       []string `json:"agents"`
	Confidence   int      `json:"confidence"`
	WhyNotChosen string   `json:"why_not_chosen"`
}

// RoutingRecommendation is the result of GetRoutingRecommendation.
type RoutingRecommendation struct {
	RecommendedWorkflow string        `json:"recommended_workflow"`
	RecommendedAgents   []string      `json:"recommended_agents"`
	Confidence          int           `json:"confidence"`
	Reasoning           string        `json:"reasoning"`
	Alternatives        []Alternative `json:"alternatives"`
}

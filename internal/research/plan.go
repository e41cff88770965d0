package research

import (
	"encoding/json"
	"strings"
)

// ResearchPlan is the parsed output of the planner. It is not modified after
// parsing.
type ResearchPlan struct {
	Goal         string   `json:"goal"`
	QuestionType string   `json:"question_type"`
	Assumptions  []string `json:"assumptions"`
	Steps        []Step   `json:"steps"`
}

// Step is one unit of work in a plan.
type Step struct {
	Index              int      `json:"step"`
	Action             string   `json:"action"`
	ExpectedOutput     string   `json:"expected_output"`
	DeliverableFormat  string   `json:"deliverable_format"`
	Depth              string   `json:"depth"`
	RequiresSearch     bool     `json:"requires_search"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// Title is the label shown for the step in progress events.
func (s Step) Title() string {
	if a := strings.TrimSpace(s.Action); a != "" {
		return a
	}
	return "Research step"
}

// FallbackPlan is used whenever plan text cannot be decoded into steps.
func FallbackPlan() ResearchPlan {
	return ResearchPlan{
		Goal:         "",
		QuestionType: "analysis",
		Assumptions:  []string{},
		Steps: []Step{{
			Index:              1,
			Action:             "Summarize the topic and gather key evidence",
			ExpectedOutput:     "A concise summary with evidence.",
			DeliverableFormat:  "paragraph",
			Depth:              "medium",
			RequiresSearch:     true,
			AcceptanceCriteria: []string{},
		}},
	}
}

// ParsePlan decodes plan text strictly. Anything that is not a JSON object
// with a non-empty "steps" array yields FallbackPlan. It never panics.
func ParsePlan(text string) ResearchPlan {
	var plan ResearchPlan
	if err := json.Unmarshal([]byte(text), &plan); err != nil || len(plan.Steps) == 0 {
		return FallbackPlan()
	}

	if plan.Assumptions == nil {
		plan.Assumptions = []string{}
	}
	for i := range plan.Steps {
		s := &plan.Steps[i]
		if s.Index <= 0 {
			s.Index = i + 1
		}
		if s.AcceptanceCriteria == nil {
			s.AcceptanceCriteria = []string{}
		}
	}
	return plan
}

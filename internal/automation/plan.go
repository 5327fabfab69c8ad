package automation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrEmptyTask = errors.New("task description is empty")

type Action string

const (
	ActionNavigate Action = "navigate"
	ActionSearch   Action = "search"
	ActionClick    Action = "click"
	ActionWait     Action = "wait"
	ActionAnalyze  Action = "analyze"
)

// Step is one unit of the action plan.
type Step struct {
	Action      Action
	URL         string
	Query       string
	Selector    string
	Duration    time.Duration
	Description string
}

// BuildPlan turns a free-form task description into a deterministic step
// sequence. Plan generation failure aborts the task; it is never recovered
// step-locally.
func BuildPlan(task, startURL string) ([]Step, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, ErrEmptyTask
	}

	return []Step{
		{
			Action:      ActionNavigate,
			URL:         startURL,
			Description: "Open the search start page",
		},
		{
			Action:      ActionSearch,
			Query:       task,
			Description: fmt.Sprintf("Search for: %s", task),
		},
		{
			Action:      ActionAnalyze,
			Description: "Analyze search results",
		},
	}, nil
}

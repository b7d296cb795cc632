package agent

import (
	"fmt"
	"strings"
)

// Category classifies a failed agent job for downstream analytics.
type Category string

const (
	CategoryNotFound Category = "not_found"
	CategoryTimeout  Category = "timeout"
	CategoryNetwork  Category = "network"
	CategoryServer   Category = "server"
	CategorySystem   Category = "system"
	CategoryUnknown  Category = "unknown"
)

// scorePenalties maps each failure category to the score deduction applied
// by downstream analytics.
var scorePenalties = map[Category]int{
	CategoryNotFound: 10,
	CategoryTimeout:  30,
	CategoryNetwork:  20,
	CategoryServer:   25,
	CategorySystem:   40,
	CategoryUnknown:  15,
}

// ScorePenalty returns the numeric penalty for the category.
func (c Category) ScorePenalty() int {
	penalty, ok := scorePenalties[c]
	if !ok {
		return scorePenalties[CategoryUnknown]
	}

	return penalty
}

// Categorize pattern-matches an error message into a failure category.
func Categorize(message string) Category {
	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "not found"), strings.Contains(lower, "no such"):
		return CategoryNotFound
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"),
		strings.Contains(lower, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(lower, "network"), strings.Contains(lower, "connection"),
		strings.Contains(lower, "unreachable"):
		return CategoryNetwork
	case strings.Contains(lower, "server error"), strings.Contains(lower, "internal error"),
		strings.Contains(lower, "bad gateway"), strings.Contains(lower, "unavailable"):
		return CategoryServer
	case strings.Contains(lower, "system"), strings.Contains(lower, "out of memory"),
		strings.Contains(lower, "panic"):
		return CategorySystem
	default:
		return CategoryUnknown
	}
}

// ParseCategory returns the category matching its wire name, falling back
// to message-based categorization.
func ParseCategory(name, message string) Category {
	switch Category(name) {
	case CategoryNotFound, CategoryTimeout, CategoryNetwork, CategoryServer, CategorySystem, CategoryUnknown:
		return Category(name)
	}

	return Categorize(message)
}

// JobError is a categorized agent job failure. It always aborts the branch
// of the graph walk that was waiting on the job.
type JobError struct {
	JobID    string
	Category Category
	Message  string
}

func (e *JobError) Error() string {
	return fmt.Sprintf("agent job %s failed (%s): %s", e.JobID, e.Category, e.Message)
}

// NewJobError builds a JobError, categorizing from the message when no
// explicit category is known.
func NewJobError(jobID string, category Category, message string) *JobError {
	if category == "" {
		category = Categorize(message)
	}

	return &JobError{JobID: jobID, Category: category, Message: message}
}

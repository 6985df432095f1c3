package lms

import (
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/lessonsync/core"
)

const (
	LevelBeginner     = "beginner"
	LevelElementary   = "elementary"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"

	UnassignedTeacher = "unassigned"
	DefaultLocation   = "online"
)

var (
	Levels = []string{LevelBeginner, LevelElementary, LevelIntermediate, LevelAdvanced}

	levelMatchRatio = 0.75
)

type (
	Student struct {
		ID         string    `json:"id"`
		Username   string    `json:"username"`
		FirstName  string    `json:"first_name"`
		LastName   string    `json:"last_name"`
		Email      string    `json:"email"`
		Level      string    `json:"level"`
		EnrolledAt time.Time `json:"enrolled_at"`
	}

	Lesson struct {
		ID          string        `json:"id"`
		Title       string        `json:"title"`
		Description string        `json:"description"`
		Level       string        `json:"level"`
		Teacher     string        `json:"teacher"`
		Location    string        `json:"location"`
		StartsAt    time.Time     `json:"starts_at"`
		Duration    time.Duration `json:"duration"`
		Slot        Slot          `json:"slot"`
	}

	Progress struct {
		StudentID            string    `json:"student_id"`
		CompletedActivities  int       `json:"completed_activities"`
		TotalActivities      int       `json:"total_activities"`
		CompletionPercentage int       `json:"completion_percentage"`
		Points               int       `json:"points"`
		LastActivity         time.Time `json:"last_activity"`
	}

	Test struct {
		ID          string        `json:"id"`
		Title       string        `json:"title"`
		Description string        `json:"description"`
		Level       string        `json:"level"`
		TimeLimit   time.Duration `json:"time_limit"`
	}

	TestResult struct {
		Score   float64           `json:"score" validate:"gte=0"`
		Answers map[string]string `json:"answers"`
	}
)

func (s Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// CompletionPercentage returns the rounded share of completed activities.
func CompletionPercentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return (completed*100 + total/2) / total
}

// ParseLevel maps a provider's free-form level label to one of Levels.
// Close spellings ("Intermediat", "ADVANCED ") are matched; anything else is LevelBeginner.
func ParseLevel(label string) string {
	label = core.CleanString(label, true)
	if label == "" {
		return LevelBeginner
	}

	best, bestRatio := LevelBeginner, 0.0
	for _, lvl := range Levels {
		if label == lvl {
			return lvl
		}
		ratio := difflib.NewMatcher(strings.Split(label, ""), strings.Split(lvl, "")).Ratio()
		if ratio >= levelMatchRatio && ratio > bestRatio {
			best, bestRatio = lvl, ratio
		}
	}
	return best
}

// LevelIn returns the first of Levels mentioned in texts ("Advanced Grammar"), or LevelBeginner.
func LevelIn(texts ...string) string {
	for _, text := range texts {
		for _, word := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
			for _, lvl := range Levels {
				if word == lvl {
					return lvl
				}
			}
		}
	}
	return LevelBeginner
}

func isSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z')
}

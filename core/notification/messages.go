package notification

import (
	"fmt"
	"time"

	"github.com/trezcool/lessonsync/core/lms"
)

var (
	icons = map[string]string{
		KindLessonReminder:   "🔔",
		KindTestNotification: "📝",
		KindClubReminder:     "👥",
		KindDailyMotivation:  "💪",
	}

	motivations = []string{
		"Good morning! Ready for another day of English?",
		"Today is a great day to learn new words!",
		"Don't forget your daily English practice.",
		"Small steps every day lead to big results!",
		"Your English gets better every day!",
	}
)

func lessonSoonMessage(l lms.Lesson) (title, message string) {
	location := l.Location
	if location == "" {
		location = lms.DefaultLocation
	}
	return "Lesson reminder", fmt.Sprintf("Your lesson '%s' starts in one hour (%s).", l.Title, location)
}

func lessonTomorrowMessage(l lms.Lesson, occ time.Time) (title, message string) {
	return "Lesson reminder", fmt.Sprintf("Tomorrow at %s you have the lesson '%s'.", occ.Format("15:04"), l.Title)
}

// motivationMessage rotates through the messages day by day.
func motivationMessage(day time.Time) (title, message string) {
	return "Daily motivation", motivations[day.YearDay()%len(motivations)]
}

func newTestMessage(test string) (title, message string) {
	return "New test available", fmt.Sprintf("Take the test '%s' to earn points and check your knowledge.", test)
}

func clubMessage(club string, at lms.TimeOfDay) (title, message string) {
	return "Club reminder", fmt.Sprintf("The '%s' club meets today at %s.", club, at)
}

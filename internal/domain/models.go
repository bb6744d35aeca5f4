package domain

import (
	"math"
	"time"
)

// LeaderboardEvent is an immutable fact describing one finalized attempt.
type LeaderboardEvent struct {
	AttemptID   string    `json:"attemptId"`
	QuizID      string    `json:"quizId"`
	StudentID   string    `json:"studentId"`
	DisplayName string    `json:"displayName"`
	Score       int       `json:"score"`
	TotalMarks  int       `json:"totalMarks"`
	Percentage  float64   `json:"percentage"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewLeaderboardEvent builds the event for a finalized attempt.
func NewLeaderboardEvent(a Attempt) LeaderboardEvent {
	score := 0
	if a.ObtainedMarks != nil {
		score = *a.ObtainedMarks
	}
	ts := a.StartedAt
	if a.SubmittedAt != nil {
		ts = *a.SubmittedAt
	}
	name := a.StudentName
	if name == "" {
		name = a.StudentID
	}
	return LeaderboardEvent{
		AttemptID:   a.ID,
		QuizID:      a.QuizID,
		StudentID:   a.StudentID,
		DisplayName: name,
		Score:       score,
		TotalMarks:  a.TotalMarks,
		Percentage:  a.Percentage,
		Timestamp:   ts,
	}
}

// GlobalTopic receives events for every quiz.
const GlobalTopic = "leaderboard"

const quizTopicPrefix = "quiz:"

// QuizTopic is the quiz-scoped leaderboard channel.
func QuizTopic(quizID string) string {
	return quizTopicPrefix + quizID
}

// QuizIDFromTopic extracts the quiz ID from a quiz-scoped topic.
func QuizIDFromTopic(topic string) (string, bool) {
	if len(topic) <= len(quizTopicPrefix) || topic[:len(quizTopicPrefix)] != quizTopicPrefix {
		return "", false
	}
	return topic[len(quizTopicPrefix):], true
}

// Topics lists the channels the event is published on.
func (e LeaderboardEvent) Topics() []string {
	return []string{QuizTopic(e.QuizID), GlobalTopic}
}

// LeaderboardEntry is a snapshot-friendly view of a finalized attempt.
type LeaderboardEntry struct {
	QuizID      string    `json:"quizId,omitempty"`
	StudentID   string    `json:"studentId"`
	DisplayName string    `json:"displayName"`
	Score       int       `json:"score"`
	Percentage  float64   `json:"percentage"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Leaderboard captures the ordered scoreboard for a quiz. The cross-quiz
// board leaves QuizID empty and sets it per entry instead.
type Leaderboard struct {
	QuizID    string             `json:"quizId,omitempty"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// ScoreStats summarises obtained marks over finalized attempts.
type ScoreStats struct {
	TotalAttempts int     `json:"totalAttempts"`
	AverageScore  float64 `json:"averageScore"`
	HighestScore  int     `json:"highestScore"`
	LowestScore   int     `json:"lowestScore"`
}

// NewScoreStats ignores attempts without a score. The average is rounded to
// two decimals.
func NewScoreStats(attempts []Attempt) ScoreStats {
	var stats ScoreStats
	sum := 0
	for _, a := range attempts {
		if a.ObtainedMarks == nil {
			continue
		}
		score := *a.ObtainedMarks
		if stats.TotalAttempts == 0 || score > stats.HighestScore {
			stats.HighestScore = score
		}
		if stats.TotalAttempts == 0 || score < stats.LowestScore {
			stats.LowestScore = score
		}
		sum += score
		stats.TotalAttempts++
	}
	if stats.TotalAttempts > 0 {
		stats.AverageScore = math.Round(float64(sum)/float64(stats.TotalAttempts)*100) / 100
	}
	return stats
}

// QuizStatistics is the teacher's score overview for one quiz.
type QuizStatistics struct {
	QuizID string `json:"quizId"`
	ScoreStats
}

// StudentSummary is a student's own results overview.
type StudentSummary struct {
	StudentID string `json:"studentId"`
	ScoreStats
	RecentAttempts []Attempt `json:"recentAttempts"`
}

// Question types understood by the default grader.
const (
	QuestionMultipleChoice = "MULTIPLE_CHOICE"
	QuestionTrueFalse      = "TRUE_FALSE"
	QuestionFillInBlank    = "FILL_IN_BLANK"
)

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is a single gradable item of a quiz.
type Question struct {
	ID            string   `json:"id"`
	Prompt        string   `json:"prompt"`
	Type          string   `json:"type"`
	Options       []Option `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`
	Points        int      `json:"points"` // defaults to 1 if zero
}

// Marks is the weight of the question.
func (q Question) Marks() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// Quiz is the read-only quiz content consumed from the quiz store.
type Quiz struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	TimeLimitSeconds int        `json:"timeLimitSeconds"`
	TotalMarks       int        `json:"totalMarks"`
	AssignedGroup    string     `json:"assignedGroup,omitempty"`
	Questions        []Question `json:"questions"`
}

// MaxMarks is the configured total, or the sum of question weights.
func (q Quiz) MaxMarks() int {
	if q.TotalMarks > 0 {
		return q.TotalMarks
	}
	total := 0
	for _, question := range q.Questions {
		total += question.Marks()
	}
	return total
}

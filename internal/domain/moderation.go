package domain

import "time"

// ModerationEntity names one of the business-entity tables whose pending
// moderation counts the watcher sums. Each table carries a
// moderation_status column taking {pending, approved, rejected}.
type ModerationEntity string

const (
	EntityEvents    ModerationEntity = "events"
	EntityCourses   ModerationEntity = "courses"
	EntityVacancies ModerationEntity = "vacancies"
	EntityProjects  ModerationEntity = "projects"
	EntityLeisures  ModerationEntity = "leisures"
	EntityExperts   ModerationEntity = "experts"
	EntityResumes   ModerationEntity = "resumes"
)

// ModerationEntities lists every table the watcher polls, in query order.
var ModerationEntities = []ModerationEntity{
	EntityEvents, EntityCourses, EntityVacancies, EntityProjects,
	EntityLeisures, EntityExperts, EntityResumes,
}

// ModerationState is the persisted watermark used to suppress duplicate
// moderation alerts. Exactly one row exists; it is updated only after a
// notification attempt succeeded on at least one channel.
type ModerationState struct {
	LastPendingCount int        `json:"last_pending_count"`
	LastNotifiedAt   *time.Time `json:"last_notified_at,omitempty"`
}

package constant

type Stage string

const (
	StageUploading  Stage = "Uploading"
	StageProcessing Stage = "Processing"
	StageReady      Stage = "Ready"
	StageFailed     Stage = "Failed"
)

func (s Stage) Terminal() bool {
	return s == StageReady || s == StageFailed
}

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
)

type AnalysisField string

const (
	AnalysisFieldDiscussions AnalysisField = "discussions"
	AnalysisFieldSummary     AnalysisField = "summary"
	AnalysisFieldTasks       AnalysisField = "tasks"
)

type EventType string

const (
	EventStageChanged     EventType = "stage_changed"
	EventUpdated          EventType = "updated"
	EventDecisionRequired EventType = "decision_required"
	EventError            EventType = "error"
	EventDeleted          EventType = "deleted"
)

const (
	PivotLanguage     = "en"
	PivotLanguageName = "English"
)

const (
	ProgressUploaded    = 0
	ProgressTranscribed = 50
	ProgressAnalyzed    = 100
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

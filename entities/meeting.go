package entities

import (
	"time"

	"gorm.io/datatypes"
	"iris/constant"
)

type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Analysis struct {
	Discussions string `json:"discussions"`
	Summary     string `json:"summary"`
	Tasks       string `json:"tasks"`
}

type Uploader struct {
	Name  string `json:"name" gorm:"type:varchar(255)"`
	Email string `json:"email" gorm:"type:varchar(255)"`
}

// IDLength is the width of the id columns; longer ids are rejected on every driver.
const IDLength = 36

type Meeting struct {
	ID                  string                           `json:"id" gorm:"type:varchar(36);primaryKey"`
	Title               string                           `json:"title" gorm:"type:varchar(500);not null"`
	CreatedAt           time.Time                        `json:"createdAt" gorm:"not null"`
	Stage               constant.Stage                   `json:"stage" gorm:"type:varchar(20);not null"`
	Progress            int                              `json:"progress" gorm:"not null;default:0"`
	MediaRef            string                           `json:"-" gorm:"type:varchar(1000)"`
	ContentType         string                           `json:"contentType" gorm:"type:varchar(255)"`
	Transcript          *string                          `json:"transcript,omitempty" gorm:"type:text"`
	WordTimings         datatypes.JSONType[[]WordTiming] `json:"wordTimings"`
	IsTranslated        bool                             `json:"isTranslated" gorm:"not null;default:false"`
	Language            string                           `json:"language,omitempty" gorm:"type:varchar(16)"`
	LanguageDisplayName string                           `json:"languageDisplayName,omitempty" gorm:"type:varchar(64)"`
	Analysis            datatypes.JSONType[*Analysis]    `json:"analysis"`
	UploadedBy          Uploader                         `json:"uploadedBy" gorm:"embedded;embeddedPrefix:uploaded_by_"`
	FailureReason       string                           `json:"failureReason,omitempty" gorm:"type:text"`
	UpdatedAt           time.Time                        `json:"updatedAt"`
}

func (Meeting) TableName() string {
	return "meetings"
}

// Timings returns nil when no timing was recorded and an empty slice for translated transcripts.
func (m *Meeting) Timings() []WordTiming {
	return m.WordTimings.Data()
}

func (m *Meeting) SetTimings(timings []WordTiming) {
	m.WordTimings = datatypes.NewJSONType(timings)
}

func (m *Meeting) CurrentAnalysis() *Analysis {
	return m.Analysis.Data()
}

func (m *Meeting) SetAnalysis(a *Analysis) {
	m.Analysis = datatypes.NewJSONType(a)
}

func (m *Meeting) HasTranscript() bool {
	return m.Transcript != nil && *m.Transcript != ""
}

// Clone copies the meeting so the copy can be mutated without touching shared slices.
func (m Meeting) Clone() Meeting {
	c := m
	if m.Transcript != nil {
		t := *m.Transcript
		c.Transcript = &t
	}
	if timings := m.Timings(); timings != nil {
		cp := make([]WordTiming, len(timings))
		copy(cp, timings)
		c.SetTimings(cp)
	}
	if a := m.CurrentAnalysis(); a != nil {
		cp := *a
		c.SetAnalysis(&cp)
	}
	return c
}

package model

import "time"

// Step is a position in the four-step record wizard.
type Step int

const (
	StepIdentity    Step = 1
	StepPerformance Step = 2
	StepSections    Step = 3
	StepInsights    Step = 4
)

// FirstStep and LastStep bound the linear step ordering.
const (
	FirstStep = StepIdentity
	LastStep  = StepInsights
)

// String returns a short name for the step.
func (s Step) String() string {
	switch s {
	case StepIdentity:
		return "identity"
	case StepPerformance:
		return "performance"
	case StepSections:
		return "sections"
	case StepInsights:
		return "insights"
	default:
		return "unknown"
	}
}

// FormData is the record being edited by the wizard. Numeric fields in the
// performance group are pointers so that an explicit zero can be told apart
// from a value that was never entered.
type FormData struct {
	// Identity and metadata.
	TestName string `json:"testName,omitempty" validate:"required"`
	TestDate string `json:"testDate,omitempty" validate:"required,datetime=2006-01-02"`
	ExamCode string `json:"examCode,omitempty" validate:"required"`
	ExamName string `json:"examName,omitempty"`
	ExamTier string `json:"examTier,omitempty"`
	Platform string `json:"testPlatform,omitempty" validate:"required"`
	TestLink string `json:"testLink,omitempty"`

	// Aggregate performance.
	TotalQuestions *int     `json:"totalQuestions,omitempty" validate:"required,gte=0"`
	CorrectAnswers *int     `json:"correctAnswers,omitempty" validate:"required,gte=0"`
	WrongAnswers   *int     `json:"wrongAnswers,omitempty" validate:"required,gte=0"`
	TotalMarks     *float64 `json:"totalMarks,omitempty" validate:"required"`
	MarksObtained  *float64 `json:"marksObtained,omitempty"`
	TimeAllotted   *int     `json:"timeAllotted,omitempty" validate:"required,gte=0"` // minutes
	TimeSpent      *int     `json:"timeSpent,omitempty" validate:"required,gte=0"`    // minutes
	Rank           *int     `json:"rank,omitempty"`
	Percentile     *float64 `json:"percentile,omitempty"`

	Sections []Section `json:"sections,omitempty"`

	// Insights.
	KeyTakeaways     string `json:"keyTakeaways,omitempty"`
	ImprovementAreas string `json:"improvementAreas,omitempty"`
}

// Marks is the marks breakdown of a section.
type Marks struct {
	Total    float64 `json:"total"`
	Obtained float64 `json:"obtained"`
	Correct  float64 `json:"correct"`
	Wrong    float64 `json:"wrong"`
}

// Section is one subject's performance breakdown.
type Section struct {
	Name               string `json:"name"`
	TotalQuestions     int    `json:"totalQuestions"`
	AttemptedQuestions int    `json:"attemptedQuestions"`
	CorrectAnswers     int    `json:"correctAnswers"`
	WrongAnswers       int    `json:"wrongAnswers"`
	SkippedQuestions   int    `json:"skippedQuestions"`
	TimeTaken          int    `json:"timeTaken"` // minutes
	Marks              Marks  `json:"marks"`
	// Mistakes holds a serialized table value.
	Mistakes string `json:"mistakes,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Normalize derives attempted and skipped counts from the correct, wrong and
// total counts. Callers opt in; the wizard never applies it on its own.
func (s Section) Normalize() Section {
	s.AttemptedQuestions = s.CorrectAnswers + s.WrongAnswers
	if skipped := s.TotalQuestions - s.AttemptedQuestions; skipped >= 0 {
		s.SkippedQuestions = skipped
	}
	return s
}

// HasIdentity reports whether the record carries the minimum fields that make
// it worth keeping as a draft.
func (f FormData) HasIdentity() bool {
	return f.ExamCode != "" && f.ExamName != ""
}

// Clone returns a deep copy of f.
func (f FormData) Clone() FormData {
	c := f
	c.TotalQuestions = clonePtr(f.TotalQuestions)
	c.CorrectAnswers = clonePtr(f.CorrectAnswers)
	c.WrongAnswers = clonePtr(f.WrongAnswers)
	c.TotalMarks = clonePtr(f.TotalMarks)
	c.MarksObtained = clonePtr(f.MarksObtained)
	c.TimeAllotted = clonePtr(f.TimeAllotted)
	c.TimeSpent = clonePtr(f.TimeSpent)
	c.Rank = clonePtr(f.Rank)
	c.Percentile = clonePtr(f.Percentile)
	if f.Sections != nil {
		c.Sections = append([]Section(nil), f.Sections...)
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Draft is a durably stored, possibly incomplete FormData snapshot.
type Draft struct {
	ID        string     `json:"id"`
	Form      FormData   `json:"formData"`
	RemoteID  string     `json:"remoteId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
	Committed bool       `json:"isSynced"`
}

// LastTouched returns the last-updated timestamp, or the creation time for a
// draft that was never updated.
func (d Draft) LastTouched() time.Time {
	if d.UpdatedAt != nil {
		return *d.UpdatedAt
	}
	return d.CreatedAt
}

// Insights holds the two free-text insight fields of the last step.
type Insights struct {
	KeyTakeaways     string `json:"keyTakeaways"`
	ImprovementAreas string `json:"improvementAreas"`
}

package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/examlog/internal/model"
	"github.com/pavelanni/examlog/internal/table"
)

//go:embed templates/*.txt
var templateFS embed.FS

var studentNotesRegex = regexp.MustCompile(`(?i)</?\s*student-notes\b[^>]*>`)

const maxNotesRunes = 4000

// PromptVariant selects how much the insight prompt asks for.
type PromptVariant string

const (
	PromptConcise  PromptVariant = "concise"
	PromptStandard PromptVariant = "standard"
	PromptDetailed PromptVariant = "detailed"
)

var variants = []PromptVariant{PromptConcise, PromptStandard, PromptDetailed}

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	for _, known := range variants {
		if PromptVariant(v) == known {
			return true
		}
	}
	return false
}

// InsightData holds template data for insight prompts.
type InsightData struct {
	ExamName string
	ExamTier string
	TestName string
	TestDate string
	Platform string
	Summary  string
	Sections []SectionData
}

// SectionData is one section as shown to the model.
type SectionData struct {
	Name     string
	Total    int
	Correct  int
	Wrong    int
	Skipped  int
	Minutes  int
	Mistakes []string
	Notes    string
}

// Set is a loaded collection of prompt templates, one per variant.
type Set struct {
	templates map[PromptVariant]*template.Template
}

// Default loads the built-in templates.
func Default() (*Set, error) {
	return Load(templateFS)
}

// Load reads templates/insights_<variant>.txt for every variant from fsys.
func Load(fsys fs.FS) (*Set, error) {
	s := &Set{templates: make(map[PromptVariant]*template.Template, len(variants))}
	for _, v := range variants {
		name := "templates/insights_" + string(v) + ".txt"
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", name, err)
		}
		tmpl, err := template.New(string(v)).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
		}
		s.templates[v] = tmpl
	}
	return s, nil
}

// BuildInsightPrompt renders the insight prompt for a record.
func (s *Set) BuildInsightPrompt(variant PromptVariant, form model.FormData) (string, error) {
	tmpl, ok := s.templates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, NewInsightData(form)); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", variant, err)
	}
	return buf.String(), nil
}

// NewInsightData flattens a record into template data. Mistake tables become
// one line per row.
func NewInsightData(form model.FormData) InsightData {
	d := InsightData{
		ExamName: form.ExamName,
		ExamTier: form.ExamTier,
		TestName: form.TestName,
		TestDate: form.TestDate,
		Platform: form.Platform,
		Summary:  summary(form),
	}
	for _, s := range form.Sections {
		d.Sections = append(d.Sections, SectionData{
			Name:     s.Name,
			Total:    s.TotalQuestions,
			Correct:  s.CorrectAnswers,
			Wrong:    s.WrongAnswers,
			Skipped:  s.SkippedQuestions,
			Minutes:  s.TimeTaken,
			Mistakes: mistakeLines(s.Mistakes),
			Notes:    sanitizeNotes(s.Notes),
		})
	}
	return d
}

func summary(f model.FormData) string {
	var parts []string
	add := func(label string, v *int) {
		if v != nil {
			parts = append(parts, label+" "+strconv.Itoa(*v))
		}
	}
	add("questions", f.TotalQuestions)
	add("correct", f.CorrectAnswers)
	add("wrong", f.WrongAnswers)
	if f.MarksObtained != nil && f.TotalMarks != nil {
		parts = append(parts, "marks "+formatFloat(*f.MarksObtained)+"/"+formatFloat(*f.TotalMarks))
	}
	if f.TimeSpent != nil && f.TimeAllotted != nil {
		parts = append(parts, "time "+strconv.Itoa(*f.TimeSpent)+"/"+strconv.Itoa(*f.TimeAllotted)+" minutes")
	}
	add("rank", f.Rank)
	if f.Percentile != nil {
		parts = append(parts, "percentile "+formatFloat(*f.Percentile))
	}
	return strings.Join(parts, ", ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func mistakeLines(serialized string) []string {
	if serialized == "" {
		return nil
	}
	v := table.Decode(serialized)
	var lines []string
	for _, r := range v.Rows {
		var cells []string
		for i, c := range r.Cells {
			text := strings.TrimSpace(c.Value)
			if text == "" {
				continue
			}
			if i < len(v.Headers) && v.Headers[i] != "" {
				text = v.Headers[i] + ": " + text
			}
			cells = append(cells, text)
		}
		if len(cells) > 0 {
			lines = append(lines, sanitizeNotes(strings.Join(cells, "; ")))
		}
	}
	return lines
}

func sanitizeNotes(notes string) string {
	notes = studentNotesRegex.ReplaceAllString(notes, "")
	notes = strings.TrimSpace(notes)
	if utf8.RuneCountInString(notes) > maxNotesRunes {
		runes := []rune(notes)
		notes = string(runes[:maxNotesRunes]) + "\n[Notes truncated due to length]"
	}
	return notes
}

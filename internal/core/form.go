package core

// form.go turns one country's pcode partition into an XLSForm document.
//
// The generated form is a cascading drop-down: question level_n lists the
// choices of list level_n whose pcode starts with the value selected at
// level_(n-1). Prefix matching on pcodes replaces an explicit parent column.

import (
	"fmt"
	"time"
)

// Fixed question and settings attributes.
const (
	QuestionDefault     = `"-"`
	QuestionAppearance  = "minimal"
	QuestionHXL         = "#adm+code"
	AllowChoiceDupes    = "yes"
	VersionLayout       = "2006-01-02 15:04:05.000000"
	levelNamePrefix     = "level_"
	questionTypePrefix  = "select_one "
	questionLabelPrefix = "Level "
)

// Sheet column headers, in output order.
var (
	SurveyColumns   = []string{"type", "name", "label", "choice_filter", "default", "appearance", "hxl"}
	ChoicesColumns  = []string{"list_name", "name", "label"}
	SettingsColumns = []string{"form_title", "version", "allow_choice_duplicates"}
)

// QuestionSpec is one row of the survey sheet.
type QuestionSpec struct {
	Type         string
	Name         string
	Label        string
	ChoiceFilter string
	Default      string
	Appearance   string
	HXL          string
}

// Values returns the row in SurveyColumns order.
func (q QuestionSpec) Values() []string {
	return []string{q.Type, q.Name, q.Label, q.ChoiceFilter, q.Default, q.Appearance, q.HXL}
}

// ChoiceSpec is one row of the choices sheet.
type ChoiceSpec struct {
	ListName string
	Name     string
	Label    string
}

// Values returns the row in ChoicesColumns order.
func (c ChoiceSpec) Values() []string {
	return []string{c.ListName, c.Name, c.Label}
}

// SettingsSpec is the single row of the settings sheet.
type SettingsSpec struct {
	FormTitle             string
	Version               string
	AllowChoiceDuplicates string
}

// Values returns the row in SettingsColumns order.
func (s SettingsSpec) Values() []string {
	return []string{s.FormTitle, s.Version, s.AllowChoiceDuplicates}
}

// FormDocument is the generated survey definition for one country.
type FormDocument struct {
	Code        string
	DisplayName string
	Questions   []QuestionSpec
	Choices     []ChoiceSpec
	Settings    SettingsSpec
}

// Title returns "<code> (<display name>)", used for both the form title and
// the artifact file name.
func Title(code, displayName string) string {
	return fmt.Sprintf("%s (%s)", code, displayName)
}

// LevelName returns the question and choice list name for an admin level.
func LevelName(level int) string {
	return fmt.Sprintf("%s%d", levelNamePrefix, level)
}

// ChoiceFilter returns the cascading filter expression for a level.
// Level 1 has no filter.
func ChoiceFilter(level int) string {
	if level <= 1 {
		return ""
	}
	return fmt.Sprintf("starts-with(name, ${%s})", LevelName(level-1))
}

// Clock returns the current time. Injected so versions are reproducible in tests.
type Clock func() time.Time

// FormBuilder converts partitions into form documents. It performs no I/O.
type FormBuilder struct {
	now Clock
}

// NewFormBuilder returns a builder using clock for settings versions.
// A nil clock uses time.Now.
func NewFormBuilder(clock Clock) *FormBuilder {
	if clock == nil {
		clock = time.Now
	}
	return &FormBuilder{now: clock}
}

// Build generates the form document for a partition.
//
// One question is emitted for every level from 1 to the highest level present,
// including levels with no rows in the partition.
func (b *FormBuilder) Build(p CountryPartition, codes CountryCodeMap) (*FormDocument, error) {
	maxLevel, err := maxAdminLevel(p)
	if err != nil {
		return nil, err
	}

	displayName, ok := codes.Name(p.Code)
	if !ok {
		return nil, &MissingDisplayNameError{Code: p.Code}
	}

	return &FormDocument{
		Code:        p.Code,
		DisplayName: displayName,
		Questions:   buildQuestions(maxLevel),
		Choices:     buildChoices(p.Rows),
		Settings: SettingsSpec{
			FormTitle:             Title(p.Code, displayName),
			Version:               b.now().Format(VersionLayout),
			AllowChoiceDuplicates: AllowChoiceDupes,
		},
	}, nil
}

func maxAdminLevel(p CountryPartition) (int, error) {
	if len(p.Rows) == 0 {
		return 0, &UnknownCountryError{Code: p.Code}
	}
	maxLevel := 0
	for _, row := range p.Rows {
		if row.AdminLevel < 1 {
			return 0, &InvalidLevelError{
				Code:  p.Code,
				Pcode: row.Pcode,
				Value: fmt.Sprint(row.AdminLevel),
				Line:  row.Line,
			}
		}
		if row.AdminLevel > maxLevel {
			maxLevel = row.AdminLevel
		}
	}
	return maxLevel, nil
}

func buildQuestions(maxLevel int) []QuestionSpec {
	questions := make([]QuestionSpec, 0, maxLevel)
	for level := 1; level <= maxLevel; level++ {
		name := LevelName(level)
		questions = append(questions, QuestionSpec{
			Type:         questionTypePrefix + name,
			Name:         name,
			Label:        fmt.Sprintf("%s%d", questionLabelPrefix, level),
			ChoiceFilter: ChoiceFilter(level),
			Default:      QuestionDefault,
			Appearance:   QuestionAppearance,
			HXL:          QuestionHXL,
		})
	}
	return questions
}

func buildChoices(rows []PcodeRow) []ChoiceSpec {
	choices := make([]ChoiceSpec, 0, len(rows))
	for _, row := range rows {
		choices = append(choices, ChoiceSpec{
			ListName: LevelName(row.AdminLevel),
			Name:     row.Pcode,
			Label:    row.Name,
		})
	}
	return choices
}

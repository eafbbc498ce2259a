package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ersonp/continuity/internal/domain/entities"
)

var deceasedMarkers = []string{"dead", "deceased", "died", "killed", "slain", "murdered"}

func isDeceased(value string) bool {
	for _, w := range strings.Fields(entities.NormalizeValue(value)) {
		for _, m := range deceasedMarkers {
			if w == m {
				return true
			}
		}
	}
	return false
}

// deathDay returns the story day a status fact was established on: the
// latest dated event of its chapter at or before the fact, otherwise the
// latest dated event of the chapter.
func deathDay(fact entities.StoryFact, events []entities.TimelineEvent) (int, bool) {
	at := fact.EstablishedIn
	before, latest := -1, -1
	for _, e := range events {
		if e.ChapterID != at.ChapterID || !e.StoryTime.HasDay() {
			continue
		}
		d := *e.StoryTime.DayNumber
		if d > latest {
			latest = d
		}
		if at.Position >= 0 && e.Position <= at.Position && d > before {
			before = d
		}
	}
	switch {
	case before >= 0:
		return before, true
	case latest >= 0:
		return latest, true
	}
	return 0, false
}

// deceasedIssues reports events that include a character on a day after
// the character was established as dead.
func deceasedIssues(staged *FactSet) []entities.ConsistencyIssue {
	events := staged.Events()
	var issues []entities.ConsistencyIssue

	for _, fact := range staged.FactsByCategory(entities.CategoryCharacterStatus) {
		if !isDeceased(fact.Value) {
			continue
		}
		day, ok := deathDay(fact, events)
		if !ok {
			continue
		}
		subject := staged.Resolve(fact.Subject)

		for _, e := range events {
			if !e.StoryTime.HasDay() || *e.StoryTime.DayNumber <= day {
				continue
			}
			if !eventIncludes(staged, e, subject) {
				continue
			}

			severity := fact.Importance.Severity()
			if severity.Rank() < entities.SeverityWarning.Rank() {
				severity = entities.SeverityWarning
			}
			loc := e.Source()
			issues = append(issues, entities.ConsistencyIssue{
				BookID:   staged.BookID(),
				Type:     entities.IssueTimelineContradiction,
				Severity: severity,
				Title:    fmt.Sprintf("%s appears after their death", fact.Subject),
				Description: fmt.Sprintf("%s is %s as of day %d (%s), but takes part in %q on day %d.",
					fact.Subject, fact.Value, day, chapterLabel(fact.EstablishedIn), e.Description, *e.StoryTime.DayNumber),
				Locations: []entities.SourceRef{loc, fact.EstablishedIn},
				Suggestions: []string{
					fmt.Sprintf("Move %q before day %d or remove %s from it.", e.Description, day, fact.Subject),
					"If this is a flashback, give the event its own story time.",
				},
				RelatedFactIDs: []string{fact.ID},
				Subject:        fact.Subject,
				Attribute:      fact.Attribute,
				ExpectedValue:  fact.Value,
				FoundValue:     "present on day " + strconv.Itoa(*e.StoryTime.DayNumber),
			})
		}
	}
	return issues
}

func eventIncludes(staged *FactSet, e entities.TimelineEvent, subject string) bool {
	for _, name := range e.Characters {
		if staged.Resolve(name) == subject {
			return true
		}
	}
	return false
}

var (
	clockTime = regexp.MustCompile(`\b(1[0-2]|0?[1-9])(?::([0-5]\d))?\s*([ap])\.?m\.?(?:\W|$)`)
	daytime   = regexp.MustCompile(`\b(noon|midday|mid-morning|afternoon)\b`)
	darkness  = regexp.MustCompile(`\b(dark(ness)?|pitch[- ]black|moonlit|moonlight|starlight|stars|night sky)\b`)
)

// isDaytime reports whether a story time label names a clock time between
// 9am and 4pm, or a daytime word.
func isDaytime(label string) bool {
	label = strings.ToLower(label)
	if daytime.MatchString(label) {
		return true
	}
	m := clockTime.FindStringSubmatch(label)
	if m == nil {
		return false
	}
	hour, _ := strconv.Atoi(m[1])
	if m[3] == "p" && hour != 12 {
		hour += 12
	}
	if m[3] == "a" && hour == 12 {
		hour = 0
	}
	return hour >= 9 && hour < 16
}

// timeOfDayIssues flags daytime events described with darkness words.
func timeOfDayIssues(events []entities.TimelineEvent) []entities.ConsistencyIssue {
	var issues []entities.ConsistencyIssue
	for _, e := range events {
		if !isDaytime(e.StoryTime.Label) {
			continue
		}
		text := strings.ToLower(e.Description + " " + e.Excerpt)
		word := darkness.FindString(text)
		if word == "" {
			continue
		}
		issues = append(issues, entities.ConsistencyIssue{
			BookID:      e.BookID,
			Type:        entities.IssueImplausibleTime,
			Severity:    entities.SeveritySuggestion,
			Title:       fmt.Sprintf("%q happens at %s but is described as %q", e.Description, e.StoryTime.Label, word),
			Description: fmt.Sprintf("The event is set at %s, which is daytime, yet the text mentions %q.", e.StoryTime.Label, word),
			Locations:   []entities.SourceRef{e.Source()},
			Suggestions: []string{
				"Change the time of day or the description of the light.",
			},
			Subject:       e.Description,
			Attribute:     "time_of_day",
			ExpectedValue: "daylight",
			FoundValue:    word,
		})
	}
	return issues
}

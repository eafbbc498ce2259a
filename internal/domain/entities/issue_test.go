package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to IssueStatus
		allowed  bool
	}{
		{StatusOpen, StatusAcknowledged, true},
		{StatusOpen, StatusResolved, true},
		{StatusOpen, StatusDismissed, true},
		{StatusAcknowledged, StatusResolved, true},
		{StatusAcknowledged, StatusDismissed, true},
		{StatusAcknowledged, StatusOpen, false},
		{StatusResolved, StatusOpen, true},
		{StatusDismissed, StatusOpen, true},
		{StatusResolved, StatusDismissed, false},
		{StatusDismissed, StatusAcknowledged, false},
		{StatusOpen, StatusOpen, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestDedupKey(t *testing.T) {
	base := DedupKey(IssueFactContradiction, "Marcus", "eye color", "ch5")

	assert.Len(t, base, 32)
	assert.Equal(t, base, DedupKey(IssueFactContradiction, "marcus", "Eye-Color", "ch5"), "normalized inputs share a key")
	assert.NotEqual(t, base, DedupKey(IssueFactContradiction, "Marcus", "eye color", "ch6"))
	assert.NotEqual(t, base, DedupKey(IssueTimelineContradiction, "Marcus", "eye color", "ch5"))
	assert.NotEqual(t, DedupKey(IssueFactContradiction, "ab", "c", ""), DedupKey(IssueFactContradiction, "a", "bc", ""))
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity("WARNING")
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, s)

	_, err = ParseSeverity("fatal")
	require.Error(t, err)
}

func TestIssueFilter_Matches(t *testing.T) {
	issue := ConsistencyIssue{Severity: SeverityWarning, Status: StatusOpen, Type: IssueFactContradiction}

	assert.True(t, IssueFilter{}.Matches(issue))
	assert.True(t, IssueFilter{Severity: Only(SeverityWarning)}.Matches(issue))
	assert.False(t, IssueFilter{Severity: Only(SeverityCritical)}.Matches(issue))
	assert.False(t, IssueFilter{Status: Only(StatusResolved)}.Matches(issue))
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("", ParseSeverity)
	require.NoError(t, err)
	_, set := f.Value()
	assert.False(t, set)

	f, err = ParseFilter("critical", ParseSeverity)
	require.NoError(t, err)
	v, set := f.Value()
	assert.True(t, set)
	assert.Equal(t, SeverityCritical, v)

	_, err = ParseFilter("meh", ParseSeverity)
	require.Error(t, err)
}

func TestConsistencyIssue_CloneIsDeep(t *testing.T) {
	issue := ConsistencyIssue{
		Locations:  []SourceRef{{ChapterID: "ch1"}},
		Resolution: &Resolution{Notes: "a"},
	}
	c := issue.Clone()
	c.Locations[0].ChapterID = "ch2"
	c.Resolution.Notes = "b"

	assert.Equal(t, "ch1", issue.Locations[0].ChapterID)
	assert.Equal(t, "a", issue.Resolution.Notes)
	assert.Equal(t, "ch1", issue.ChapterID())
}

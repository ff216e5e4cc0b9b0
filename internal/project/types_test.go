package project

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketScore(t *testing.T) {
	tests := []struct {
		score int
		want  Organization
	}{
		{100, OrgExcellent},
		{80, OrgExcellent},
		{79, OrgGood},
		{100 - 20 - 15, OrgGood},
		{60, OrgGood},
		{100 - 20 - 15 - 10, OrgFair},
		{40, OrgFair},
		{39, OrgPoor},
		{0, OrgPoor},
	}
	for _, tt := range tests {
		if got := BucketScore(tt.score); got != tt.want {
			t.Errorf("BucketScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestAddIssue_IsASet(t *testing.T) {
	var s State
	s.AddIssue(IssueSecurity)
	s.AddIssue(IssueBuild)
	s.AddIssue(IssueSecurity)
	s.AddIssue(IssueTypeScript)

	assert.Equal(t, []string{IssueBuild, IssueSecurity, IssueTypeScript}, s.CriticalIssues)
	assert.True(t, s.HasIssue(IssueBuild))
	assert.False(t, State{}.HasIssue(IssueBuild))
}

func TestRapidWithin(t *testing.T) {
	mk := func(ts ...int64) []Commit {
		out := make([]Commit, len(ts))
		for i, v := range ts {
			out[i] = Commit{Timestamp: v}
		}
		return out
	}
	tests := []struct {
		name    string
		commits []Commit
		want    bool
	}{
		{"fewer than five", mk(1000, 990, 980, 970), false},
		{"within window", mk(1000, 950, 900, 850, 800), true},
		{"exactly window", mk(1300, 1200, 1100, 1050, 1000), false},
		{"just under", mk(1299, 1200, 1100, 1050, 1000), true},
		{"older commits ignored", mk(1000, 990, 980, 970, 960, 0), true},
		{"none", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RapidWithin(tt.commits, 5, 300))
		})
	}
}

func TestHoursOrNil(t *testing.T) {
	s := State{HoursSinceMaintenance: math.Inf(1)}
	assert.Nil(t, s.HoursOrNil())
	assert.False(t, s.MaintenanceKnown())

	s.HoursSinceMaintenance = 2.5
	require.NotNil(t, s.HoursOrNil())
	assert.Equal(t, 2.5, *s.HoursOrNil())
}

func TestState_JSONOmitsInfiniteHours(t *testing.T) {
	s := State{HoursSinceMaintenance: math.Inf(1), CodeOrganization: OrgGood}
	_, err := json.Marshal(s)
	require.NoError(t, err)
}

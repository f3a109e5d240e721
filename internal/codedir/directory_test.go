package codedir

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clubtreasurer/internal/domain"
)

const sampleCSV = `club_name,event_name,event_code,event_type,vat_status,year_created
Finance Club,Annual Gala,E001,Social,Standard,2023
Finance Club,Operating Costs,E031,Operating,Exempt,2023
Technology Club,Hackathon,E045,Academic,Standard,2024
Technology Club,Speaker Series,E046,Academic,Standard,2024
`

func sampleDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := Parse(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	return d
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 1.0, Ratio("", ""))
	assert.Equal(t, 1.0, Ratio("Finance Club", "Finance Club"))
	assert.Equal(t, 0.0, Ratio("abc", "xyz"))
	assert.InDelta(t, 0.75, Ratio("abcd", "bcde"), 1e-9)
	assert.InDelta(t, 0.75, Ratio("Tech Club", "Technology Club"), 1e-9)
}

func TestRatioIsOrderSensitive(t *testing.T) {
	// Values from Python difflib.SequenceMatcher(None, a, b).ratio().
	assert.InDelta(t, 9.0/14, Ratio("Energy Club", "Entrepreneur Club"), 1e-9)
	assert.InDelta(t, 4.0/7, Ratio("Entrepreneur Club", "Energy Club"), 1e-9)
}

func TestSuggestScoresCandidateAgainstWord(t *testing.T) {
	d := New([]domain.CodeEntry{{Code: "E070", Club: "Energy Club", Event: "Operating Costs"}})
	s, ok := d.Suggest("Entrepreneur Club", "")
	require.True(t, ok)
	assert.Equal(t, "E070", s.Code)
	assert.Equal(t, ConfidenceGeneralFuzzy, s.Confidence)
}

func TestSuggestTiePicksLastClubName(t *testing.T) {
	d := New([]domain.CodeEntry{
		{Code: "C1", Club: "abe", Event: "Social"},
		{Code: "C2", Club: "abd", Event: "Social"},
	})
	s, ok := d.Suggest("abc", "")
	require.True(t, ok)
	assert.Equal(t, "C1", s.Code)
	assert.Equal(t, "abe", s.Club)
	assert.Equal(t, ConfidenceFirstFuzzy, s.Confidence)
}

func TestParse(t *testing.T) {
	d := sampleDirectory(t)
	assert.True(t, d.Loaded())
	assert.Len(t, d.Entries(), 4)
	assert.Equal(t, []string{"Finance Club", "Technology Club"}, d.Clubs())
	assert.True(t, d.Valid("E001"))
	assert.True(t, d.Valid(" E045 "))
	assert.False(t, d.Valid("INVALID999"))

	e := d.Entries()[1]
	assert.Equal(t, "Operating Costs", e.Event)
	assert.Equal(t, "Exempt", e.TaxStatus)
	assert.Equal(t, "2023", e.Year)
}

func TestParseMissingColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("club_name,event_name\nA,B\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event_code")
}

func TestLoadFailureDegrades(t *testing.T) {
	d, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	require.NotNil(t, d)
	assert.False(t, d.Loaded())
	assert.False(t, d.Valid("E001"))
	_, ok := d.Suggest("Finance Club", "")
	assert.False(t, ok)
}

func TestSuggestTiers(t *testing.T) {
	d := sampleDirectory(t)

	cases := []struct {
		name       string
		club, hint string
		code       string
		confidence float64
	}{
		{"exact club and event", "finance club", "gala", "E001", ConfidenceExact},
		{"exact club general entry", "Finance Club", "", "E031", ConfidenceGeneralExact},
		{"hint not found falls through", "Finance Club", "picnic", "E031", ConfidenceGeneralExact},
		{"fuzzy club general entry", "finance club", "", "E031", ConfidenceGeneralFuzzy},
		{"exact club first entry", "Technology Club", "", "E045", ConfidenceFirstExact},
		{"fuzzy club first entry", "Tech Club", "", "E045", ConfidenceFirstFuzzy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, ok := d.Suggest(tc.club, tc.hint)
			require.True(t, ok)
			assert.Equal(t, tc.code, s.Code)
			assert.Equal(t, tc.confidence, s.Confidence)
		})
	}
}

func TestSuggestBelowCutoff(t *testing.T) {
	d := sampleDirectory(t)
	_, ok := d.Suggest("xyzzy", "")
	assert.False(t, ok)
	_, ok = d.Suggest("", "gala")
	assert.False(t, ok)
}

func TestExactOutranksFuzzy(t *testing.T) {
	d := sampleDirectory(t)
	exact, ok := d.Suggest("Technology Club", "hackathon")
	require.True(t, ok)
	fuzzy, ok := d.Suggest("Tech Club", "hackathon")
	require.True(t, ok)
	assert.Greater(t, exact.Confidence, fuzzy.Confidence)
}

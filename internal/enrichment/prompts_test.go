package enrichment

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testEventContext() *EventContext {
	return &EventContext{
		EventID:   "evt-1",
		CameraID:  "cam-7",
		Location:  "Main St & 5th Ave",
		Timestamp: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Score:     0.97,
	}
}

func TestScenePromptIncludesContext(t *testing.T) {
	prompt := scenePrompt(testEventContext())
	assert.Contains(t, prompt, "Known location: Main St & 5th Ave")
	assert.Contains(t, prompt, "Detection timestamp: 2026-03-14 09:26:53")
	assert.Contains(t, prompt, "Camera ID associated with system: cam-7")
}

func TestScenePromptOmitsEmptyContext(t *testing.T) {
	prompt := scenePrompt(&EventContext{Timestamp: time.Now()})
	assert.NotContains(t, prompt, "Known location")
	assert.NotContains(t, prompt, "Camera ID")
}

func TestFindingsPromptDemandsJSON(t *testing.T) {
	prompt := findingsPrompt(testEventContext())
	assert.Contains(t, prompt, "MUST be valid JSON")
	assert.Contains(t, prompt, "accident_severity")
	assert.Contains(t, prompt, "The incident location is Main St & 5th Ave")
}

func TestRecommendationsPromptUsesStageOneOutputs(t *testing.T) {
	ec := testEventContext()
	ec.SceneDescription = "Two vehicles collided at the intersection."
	ec.Findings = map[string]any{"accident_severity": "moderate", "road_conditions": "wet"}

	prompt := recommendationsPrompt(ec)
	assert.Contains(t, prompt, "Two vehicles collided at the intersection.")
	assert.Contains(t, prompt, "- accident_severity: moderate")
	assert.Contains(t, prompt, "- road_conditions: wet")
}

func TestRecommendationsPromptDegradesWithoutInputs(t *testing.T) {
	prompt := recommendationsPrompt(testEventContext())
	assert.Contains(t, prompt, "No narrative available.")
	assert.Contains(t, prompt, "No structured data available")
}

func TestBasicReportContent(t *testing.T) {
	report := BasicReport(testEventContext())
	assert.True(t, strings.HasPrefix(report, "Accident Report (For Insurance Claim):"))
	assert.Contains(t, report, "Location: Main St & 5th Ave")
	assert.Contains(t, report, "Camera ID: cam-7")
	assert.Contains(t, report, "Detection Confidence: 97%")
	assert.Contains(t, report, "Disclaimer")
}

func TestBasicReportUnknownFields(t *testing.T) {
	report := BasicReport(&EventContext{Timestamp: time.Now(), Score: 0.5})
	assert.Contains(t, report, "Location: Unknown")
	assert.Contains(t, report, "Camera ID: Unknown")
}

func TestFormatFindingsEmpty(t *testing.T) {
	assert.Equal(t, "No structured data available.", FormatFindings(nil))
}

func TestFormatFindingsRendersJSON(t *testing.T) {
	out := FormatFindings(map[string]any{"collision_type": "rear-end"})
	assert.Contains(t, out, `"collision_type": "rear-end"`)
}

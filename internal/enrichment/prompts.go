package enrichment

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// scenePrompt asks for a narrative description of the accident frame.
func scenePrompt(ec *EventContext) string {
	var b strings.Builder
	b.WriteString(`You are an expert traffic incident analyst. Examine the provided accident frame image and produce a clear, factual summary of what appears in the scene.

Guidelines:
- Describe the road type, number of vehicles, their apparent positions, directions, and any visible collisions.
- Mention visible damage, smoke, debris, skid marks, or hazards.
- Note weather, lighting, traffic density, and potential contributing factors (e.g., speeding, lane changes, obstacles).
- Highlight any visible injuries or persons requiring assistance if discernible.
- Keep the tone professional and objective.
- Format the response using short paragraphs and bullet lists when appropriate.`)

	if ctx := contextLines(ec); len(ctx) > 0 {
		b.WriteString("\n\nContext:\n- ")
		b.WriteString(strings.Join(ctx, "\n- "))
	}

	b.WriteString("\n\nReturn only the analysis text.")
	return b.String()
}

// findingsPrompt asks for machine-readable structured findings.
func findingsPrompt(ec *EventContext) string {
	var b strings.Builder
	b.WriteString(`You are a structured data extraction assistant. Analyse the accident frame image and return a JSON object with the following structure:
{
  "accident_severity": "minor | moderate | severe | unclear",
  "collision_type": "rear-end | side-impact | head-on | rollover | multi-vehicle | unclear",
  "vehicles_involved": [
    {
      "vehicle_type": "car | bike | truck | bus | other | unknown",
      "position": "left | center | right | intersection | roadside | unknown",
      "visible_damage": "none | minor | moderate | severe | unknown"
    }
  ],
  "persons_observed": {
    "count": number,
    "possible_injuries": "none | minor | moderate | severe | unknown"
  },
  "road_conditions": "dry | wet | icy | debris | unclear",
  "weather_conditions": "clear | rain | fog | night | other | unclear",
  "contributing_factors": ["list potential causes or leave empty"],
  "immediate_hazards": ["list hazards such as fire, fuel leak, debris"]
}

Requirements:
- The response MUST be valid JSON without additional commentary.
- Only include keys listed above.
- Use null for unknown numerical values.
- Use an empty list when no items are observed.`)

	if ec.Location != "" {
		fmt.Fprintf(&b, "\nContext hint: The incident location is %s.", ec.Location)
	}
	return b.String()
}

// recommendationsPrompt asks for responder guidance built on the first-stage
// outputs. Missing inputs degrade to placeholder text rather than failing.
func recommendationsPrompt(ec *EventContext) string {
	scene := ec.SceneDescription
	if scene == "" {
		scene = "No narrative available."
	}

	return fmt.Sprintf(`You are a road safety advisor. Based on the following scene description and structured findings, produce actionable safety recommendations for emergency responders and city authorities.

Scene description:
%s

Structured findings:
%s

Provide:
1. Immediate responder actions (bullet list).
2. Short-term mitigation steps (1-2 items).
3. Long-term prevention suggestions (1-2 items).

Use clear headings and concise bullet points.`, scene, findingsBullets(ec.Findings))
}

// reportPrompt asks for an incident report suitable for claim submission.
func reportPrompt(ec *EventContext) string {
	scene := ec.SceneDescription
	if scene == "" {
		scene = "Not available"
	}

	return fmt.Sprintf(`You are an insurance claim specialist. Draft a concise accident report for the insured party using the details below. Keep it factual and suitable for claim submission.

Incident metadata: %s
Scene summary: %s
Structured findings: %s

Include sections:
- Incident Overview
- Observed Damages and Impact
- Potential Liability Notes
- Recommended Next Steps for the insured party

Use professional tone with short paragraphs and bullet lists when helpful.`, metadataLine(ec), scene, FormatFindings(ec.Findings))
}

// BasicReport is the static incident report used when no analysis provider
// is available. The alert pipeline still has something usable to deliver.
func BasicReport(ec *EventContext) string {
	return fmt.Sprintf(`Accident Report (For Insurance Claim):

**Incident Details:**
Date and Time: %s
Location: %s
Detection Confidence: %.0f%%

**Camera Details:**
Camera ID: %s

**Additional Information:**
Please use this report for your insurance claim.
A photo of the accident scene is attached (if available).

**Disclaimer:** This report is generated automatically and may not include all details. Please consult with relevant authorities and insurance providers for complete assessment.
`,
		ec.Timestamp.Format("2006-01-02 15:04:05"),
		orUnknown(ec.Location),
		ec.Score*100,
		orUnknown(ec.CameraID))
}

// FormatFindings renders structured findings for human-readable messages.
func FormatFindings(findings map[string]any) string {
	if len(findings) == 0 {
		return "No structured data available."
	}
	out, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", findings)
	}
	return string(out)
}

func findingsBullets(findings map[string]any) string {
	if len(findings) == 0 {
		return "- No structured data available"
	}
	keys := make([]string, 0, len(findings))
	for k := range findings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %v", k, findings[k]))
	}
	return strings.Join(lines, "\n")
}

func contextLines(ec *EventContext) []string {
	var lines []string
	if ec.Location != "" {
		lines = append(lines, "Known location: "+ec.Location)
	}
	if !ec.Timestamp.IsZero() {
		lines = append(lines, "Detection timestamp: "+ec.Timestamp.Format("2006-01-02 15:04:05"))
	}
	if ec.CameraID != "" {
		lines = append(lines, "Camera ID associated with system: "+ec.CameraID)
	}
	return lines
}

func metadataLine(ec *EventContext) string {
	return fmt.Sprintf("location=%s camera=%s timestamp=%s confidence=%.2f",
		orUnknown(ec.Location),
		orUnknown(ec.CameraID),
		ec.Timestamp.Format("2006-01-02 15:04:05"),
		ec.Score)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

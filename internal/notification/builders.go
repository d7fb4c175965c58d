package notification

import (
	"fmt"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/detection"
	"github.com/roadsentry/roadsentry-go/internal/enrichment"
)

// AlertTasks builds the urgent messages sent the moment an event confirms:
// the alert with the peak frame attached for the alerts channel, and a copy
// of the evidence photo for the reports channel.
func AlertTasks(event *detection.Event, main *conf.MainSettings) []*Task {
	message := fmt.Sprintf("Location: %s\nCamera ID: %s\nTimestamp: %s\nConfidence: %.0f%%\nImmediate action required!",
		orUnset(main.Location),
		orUnset(main.CameraID),
		event.ConfirmTime.Format("2006-01-02 15:04:05"),
		event.PeakScore*100)

	alert := NewTask(event.ID, ChannelAlerts, KindAlert, "URGENT: Accident Detected!", message)
	evidence := NewTask(event.ID, ChannelReports, KindAlert, "Accident Evidence", "Frame captured at peak detection confidence.")
	if event.Frame != nil {
		alert.Photo = event.Frame.Data
		evidence.Photo = event.Frame.Data
	}
	return []*Task{alert, evidence}
}

// ProgressTasks tells both channels that analysis has started.
func ProgressTasks(event *detection.Event) []*Task {
	const message = "AI accident analysis in progress (expected < 1 minute)..."
	return []*Task{
		NewTask(event.ID, ChannelReports, KindProgress, "", message),
		NewTask(event.ID, ChannelAlerts, KindProgress, "", message),
	}
}

// ResultTasks routes one finished analysis product to its destination
// channels. Recommendations additionally go to the alerts channel so
// responders see them without watching the report feed.
func ResultTasks(event *detection.Event, kind enrichment.ProductKind, payload string) []*Task {
	switch kind {
	case enrichment.ProductSceneDescription:
		return []*Task{NewTask(event.ID, ChannelReports, KindReport, "Accident Scene Analysis", payload)}
	case enrichment.ProductStructuredFindings:
		return []*Task{NewTask(event.ID, ChannelReports, KindReport, "Structured Findings", payload)}
	case enrichment.ProductRecommendations:
		return []*Task{
			NewTask(event.ID, ChannelReports, KindReport, "Safety Recommendations", payload),
			NewTask(event.ID, ChannelAlerts, KindReport, "Safety Recommendations Update", payload),
		}
	case enrichment.ProductReport:
		return []*Task{NewTask(event.ID, ChannelReports, KindReport, "Enhanced Insurance Report", payload)}
	default:
		return nil
	}
}

// FallbackTasks carries the degradation path when no analysis provider is
// available: a notice plus the static report.
func FallbackTasks(event *detection.Event, basicReport string) []*Task {
	return []*Task{
		NewTask(event.ID, ChannelReports, KindFailure, "", "AI analysis could not be initialised. Basic reports only."),
		NewTask(event.ID, ChannelReports, KindReport, "", basicReport),
	}
}

// FailureTask reports a failed analysis product to the reports channel.
func FailureTask(event *detection.Event, kind enrichment.ProductKind) *Task {
	message := fmt.Sprintf("AI analysis product %q failed. Please rely on the attached evidence.", kind)
	return NewTask(event.ID, ChannelReports, KindFailure, "", message)
}

func orUnset(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

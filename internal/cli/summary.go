package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/casamayor/predial/internal/model"
	"github.com/casamayor/predial/internal/partition"
	"github.com/casamayor/predial/internal/service"
)

func row(label string, value any) string {
	return LabelStyle.Render(label) + fmt.Sprintf("%v", value)
}

// RenderEtlSummary renders an ETL run summary box.
func RenderEtlSummary(s *service.EtlSummary) string {
	lines := []string{
		row("Run", s.RunID),
		row("Input rows", s.InputRows),
		row("Rejected rows", s.RejectedRows),
		"",
		SuccessStyle.Render(row("OK", s.OKCount)),
		WarningStyle.Render(row("Warnings", s.WarningCount)),
		ErrorStyle.Render(row("Errors", s.ErrorCount)),
		"",
		row("Excessive activity", s.ExcessiveActivityCount),
		row("Geo discrepancies", s.GeoDiscrepancyCount),
	}

	if len(s.PartitionCounts) > 0 {
		lines = append(lines, "", SubtleStyle.Render("Partitions"))
		for _, name := range partition.Names {
			lines = append(lines, row("  "+name, s.PartitionCounts[name]))
		}
	}
	if len(s.ReasonCounts) > 0 {
		lines = append(lines, "", SubtleStyle.Render("Reasons"))
		reasons := make([]string, 0, len(s.ReasonCounts))
		for reason := range s.ReasonCounts {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			lines = append(lines, row("  "+reason, s.ReasonCounts[model.ErrorReason(reason)]))
		}
	}
	lines = append(lines, "", row("Duration", s.Duration.Round(time.Millisecond)))

	return RenderBox(ChartIcon+" ETL complete", strings.Join(lines, "\n"))
}

// RenderTrainSummary renders a training run summary box.
func RenderTrainSummary(s *service.TrainSummary) string {
	lines := []string{
		row("Run", s.RunID),
		row("Sample size", s.SampleSize),
		row("Features", s.FeatureCount),
		row("Dropped features", s.DroppedFeatures),
		row("Artifact", s.ArtifactPath),
		"",
	}
	lines = append(lines, riskRows(s.RiskCounts)...)
	lines = append(lines, "", row("Duration", s.Duration.Round(time.Millisecond)))

	return RenderBox(ChartIcon+" Training complete", strings.Join(lines, "\n"))
}

// RenderScoreSummary renders a scoring run summary box.
func RenderScoreSummary(s *service.ScoreSummary) string {
	lines := []string{
		row("Run", s.RunID),
		row("Processed", s.Processed),
		row("Updated", s.Updated),
		row("Anomalies", s.Anomalies),
	}
	if s.FailedChunks > 0 {
		lines = append(lines, ErrorStyle.Render(row("Failed chunks", s.FailedChunks)))
	}
	lines = append(lines, "")
	lines = append(lines, riskRows(s.RiskCounts)...)
	lines = append(lines, "", row("Duration", s.Duration.Round(time.Millisecond)))

	return RenderBox(ChartIcon+" Scoring complete", strings.Join(lines, "\n"))
}

func riskRows(counts map[model.RiskLevel]int) []string {
	return []string{
		SuccessStyle.Render(row("Normal", counts[model.RiskNormal])),
		WarningStyle.Render(row("Suspicious", counts[model.RiskSuspicious])),
		ErrorStyle.Render(row("High risk", counts[model.RiskHighRisk])),
	}
}

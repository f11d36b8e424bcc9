package observability

import "testing"

func TestProcessingDriftMonitor_DetectsDrift(t *testing.T) {
	mon := NewProcessingDriftMonitor("gemini-2.5-flash", "segment_analysis:3", 5, 500)
	mon.UpdateBaseline("segment_analysis_ms", 1000)

	for i := 0; i < 5; i++ {
		mon.RecordDuration("segment_analysis_ms", 4000)
	}

	if drift := mon.GetDrift("segment_analysis_ms"); drift < 500 {
		t.Fatalf("expected drift >= 500ms, got %v", drift)
	}
}

func TestRecordProcessingDuration_DefaultsUnknownAndCustom(_ *testing.T) {
	RecordProcessingDuration("segment_analysis_ms", "gemini-2.5-flash", "3", 1200)
	RecordProcessingDuration("combination_ms", "", "", 50)
}

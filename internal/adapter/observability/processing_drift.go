// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"fmt"
	"log/slog"
	"sync"
)

// ProcessingDriftMonitor tracks whether a (model, promptVersion) pair's
// recent segment-analysis processing times have drifted away from its
// established baseline, surfacing silent provider-side behavior changes
// that a pure success/failure count would miss.
type ProcessingDriftMonitor struct {
	baselineMs    map[string]float64
	recentMs      map[string][]float64
	windowSize    int
	driftThreshold float64
	mu            sync.RWMutex
	model         string
	promptVersion string
}

// NewProcessingDriftMonitor creates a new processing-time drift monitor for
// one (model, promptVersion) pair.
func NewProcessingDriftMonitor(model, promptVersion string, windowSize int, driftThreshold float64) *ProcessingDriftMonitor {
	return &ProcessingDriftMonitor{
		baselineMs:     make(map[string]float64),
		recentMs:       make(map[string][]float64),
		windowSize:     windowSize,
		driftThreshold: driftThreshold,
		model:          model,
		promptVersion:  promptVersion,
	}
}

// UpdateBaseline sets the baseline processing time for a metric (e.g.
// "segment_analysis_ms", "combination_ms").
func (pdm *ProcessingDriftMonitor) UpdateBaseline(metricType string, ms float64) {
	pdm.mu.Lock()
	defer pdm.mu.Unlock()

	pdm.baselineMs[metricType] = ms
	slog.Info("updated processing-time baseline",
		slog.String("metric_type", metricType),
		slog.Float64("ms", ms),
		slog.String("model", pdm.model),
		slog.String("prompt_version", pdm.promptVersion))
}

// RecordDuration records a new processing duration and checks for drift.
func (pdm *ProcessingDriftMonitor) RecordDuration(metricType string, ms float64) {
	pdm.mu.Lock()
	defer pdm.mu.Unlock()

	if pdm.recentMs[metricType] == nil {
		pdm.recentMs[metricType] = make([]float64, 0, pdm.windowSize)
	}

	pdm.recentMs[metricType] = append(pdm.recentMs[metricType], ms)
	if len(pdm.recentMs[metricType]) > pdm.windowSize {
		pdm.recentMs[metricType] = pdm.recentMs[metricType][1:]
	}

	if len(pdm.recentMs[metricType]) >= pdm.windowSize {
		drift := pdm.calculateDrift(metricType)
		if drift > pdm.driftThreshold {
			slog.Warn("processing-time drift detected",
				slog.String("metric_type", metricType),
				slog.Float64("drift_ms", drift),
				slog.Float64("threshold_ms", pdm.driftThreshold),
				slog.String("model", pdm.model),
				slog.String("prompt_version", pdm.promptVersion))
			RecordProcessingDrift(metricType, pdm.model, pdm.promptVersion, drift)
		}
	}
}

// calculateDrift calculates the absolute drift from baseline.
func (pdm *ProcessingDriftMonitor) calculateDrift(metricType string) float64 {
	baseline, exists := pdm.baselineMs[metricType]
	if !exists {
		return 0.0
	}

	recent := pdm.recentMs[metricType]
	if len(recent) == 0 {
		return 0.0
	}

	avgRecent := 0.0
	for _, ms := range recent {
		avgRecent += ms
	}
	avgRecent /= float64(len(recent))

	drift := avgRecent - baseline
	if drift < 0 {
		drift = -drift
	}
	return drift
}

// GetDrift returns the current drift for a metric type.
func (pdm *ProcessingDriftMonitor) GetDrift(metricType string) float64 {
	pdm.mu.RLock()
	defer pdm.mu.RUnlock()

	return pdm.calculateDrift(metricType)
}

// GetBaseline returns the baseline for a metric type.
func (pdm *ProcessingDriftMonitor) GetBaseline(metricType string) (float64, bool) {
	pdm.mu.RLock()
	defer pdm.mu.RUnlock()

	ms, exists := pdm.baselineMs[metricType]
	return ms, exists
}

// Reset clears all baselines and recent samples.
func (pdm *ProcessingDriftMonitor) Reset() {
	pdm.mu.Lock()
	defer pdm.mu.Unlock()

	pdm.baselineMs = make(map[string]float64)
	pdm.recentMs = make(map[string][]float64)
}

// ProcessingDriftManager manages one ProcessingDriftMonitor per (model,
// promptVersion) pair.
type ProcessingDriftManager struct {
	monitors map[string]*ProcessingDriftMonitor
	mu       sync.RWMutex
}

// NewProcessingDriftManager creates a new manager.
func NewProcessingDriftManager() *ProcessingDriftManager {
	return &ProcessingDriftManager{monitors: make(map[string]*ProcessingDriftMonitor)}
}

// GetOrCreateMonitor gets an existing monitor or creates a new one.
func (pdm *ProcessingDriftManager) GetOrCreateMonitor(key, model, promptVersion string, windowSize int, driftThreshold float64) *ProcessingDriftMonitor {
	pdm.mu.Lock()
	defer pdm.mu.Unlock()

	if monitor, exists := pdm.monitors[key]; exists {
		return monitor
	}
	monitor := NewProcessingDriftMonitor(model, promptVersion, windowSize, driftThreshold)
	pdm.monitors[key] = monitor
	return monitor
}

// GetMonitor gets an existing monitor.
func (pdm *ProcessingDriftManager) GetMonitor(key string) (*ProcessingDriftMonitor, bool) {
	pdm.mu.RLock()
	defer pdm.mu.RUnlock()

	monitor, exists := pdm.monitors[key]
	return monitor, exists
}

// Global processing drift manager instance.
var globalPDM = NewProcessingDriftManager()

// GetProcessingDriftMonitor gets or creates a processing drift monitor.
func GetProcessingDriftMonitor(key, model, promptVersion string, windowSize int, driftThreshold float64) *ProcessingDriftMonitor {
	return globalPDM.GetOrCreateMonitor(key, model, promptVersion, windowSize, driftThreshold)
}

// RecordProcessingDuration records a processing duration for drift monitoring.
func RecordProcessingDuration(metricType, model, promptVersion string, ms float64) {
	key := fmt.Sprintf("%s_%s_%s", metricType, model, promptVersion)
	monitor := GetProcessingDriftMonitor(key, model, promptVersion, 10, 2000) // 10 samples, 2s threshold
	monitor.RecordDuration(metricType, ms)
}

// UpdateProcessingBaseline updates the baseline duration for drift monitoring.
func UpdateProcessingBaseline(metricType, model, promptVersion string, ms float64) {
	key := fmt.Sprintf("%s_%s_%s", metricType, model, promptVersion)
	monitor := GetProcessingDriftMonitor(key, model, promptVersion, 10, 2000)
	monitor.UpdateBaseline(metricType, ms)
}

// GetProcessingDrift returns the current drift for a metric.
func GetProcessingDrift(metricType, model, promptVersion string) float64 {
	key := fmt.Sprintf("%s_%s_%s", metricType, model, promptVersion)
	monitor, exists := globalPDM.GetMonitor(key)
	if !exists {
		return 0.0
	}
	return monitor.GetDrift(metricType)
}

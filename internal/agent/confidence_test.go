package agent

import (
	"testing"

	"github.com/relaypoint/crmagent/pkg/models"
)

func TestConfidenceLabel(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name       string
		confidence *float64
		threshold  float64
		want       string
	}{
		{"nil is unknown", nil, 0.7, models.ConfidenceUnknown},
		{"at threshold is high", f(0.7), 0.7, models.ConfidenceHigh},
		{"above threshold is high", f(0.95), 0.7, models.ConfidenceHigh},
		{"just below threshold is medium", f(0.69), 0.7, models.ConfidenceMedium},
		{"medium lower bound inclusive", f(0.5), 0.7, models.ConfidenceMedium},
		{"below medium band is low", f(0.49), 0.7, models.ConfidenceLow},
		{"zero is low", f(0), 0.7, models.ConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConfidenceLabel(tt.confidence, tt.threshold); got != tt.want {
				t.Errorf("ConfidenceLabel = %s, want %s", got, tt.want)
			}
		})
	}
}

package agent

import "github.com/relaypoint/crmagent/pkg/models"

// ConfidenceLabel maps a confidence score to its label relative to the
// configured threshold t: high when score >= t, medium when score is within
// 0.2 below t, low below that, unknown when the score is absent.
func ConfidenceLabel(confidence *float64, threshold float64) string {
	if confidence == nil {
		return models.ConfidenceUnknown
	}
	switch c := *confidence; {
	case c >= threshold:
		return models.ConfidenceHigh
	case c >= threshold-0.2:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

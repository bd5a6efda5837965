package agent

import (
	"strings"
	"testing"

	"github.com/relaypoint/crmagent/pkg/models"
)

func TestBuildSystemPromptDeterministic(t *testing.T) {
	params := PromptParams{
		ConfidenceThreshold: 0.7,
		ConnectionID:        "conn-1",
		ObjectLimit:         200,
		FieldLimit:          100,
		QueryLimit:          5,
		Summary: &models.ConversationSummary{
			ObjectResolution: models.ObjectResolution{
				APINames: []string{"Account", "Contact"},
				LabelMappings: map[string]string{
					"customers": "Account",
					"people":    "Contact",
				},
			},
		},
	}

	first := BuildSystemPrompt(PromptOptimized, params)
	for i := 0; i < 10; i++ {
		if got := BuildSystemPrompt(PromptOptimized, params); got != first {
			t.Fatal("prompt is not deterministic across renders")
		}
	}
}

func TestBuildSystemPromptInterpolation(t *testing.T) {
	prompt := BuildSystemPrompt(PromptOptimized, PromptParams{
		ConfidenceThreshold: 0.85,
		ConnectionID:        "conn-42",
		QueryLimit:          5,
	})
	for _, want := range []string{"0.85", "conn-42", "LIMIT", "response_type"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildSystemPromptPresetsDiffer(t *testing.T) {
	params := PromptParams{ConfidenceThreshold: 0.7, ConnectionID: "c"}
	if BuildSystemPrompt(PromptVerbose, params) == BuildSystemPrompt(PromptOptimized, params) {
		t.Fatal("presets render identically")
	}
}

func TestBuildSystemPromptOmitsEmptySummary(t *testing.T) {
	prompt := BuildSystemPrompt(PromptOptimized, PromptParams{
		ConfidenceThreshold: 0.7,
		ConnectionID:        "c",
		Summary:             &models.ConversationSummary{},
	})
	if strings.Contains(prompt, "Known from earlier turns") {
		t.Error("empty summary should not render a context section")
	}
}

package retrieve

import "testing"

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Intent
	}{
		{"plain question", "What port does the ingest service listen on?", IntentFact},
		{"summary english", "Give me a summary of the contract", IntentSummary},
		{"summarize verb", "Can you summarize chapter 3?", IntentSummary},
		{"overview", "I need an overview of the architecture", IntentSummary},
		{"summary german", "Bitte eine Zusammenfassung des Dokuments", IntentSummary},
		{"worum geht es", "Worum geht es in diesem Vertrag?", IntentSummary},
		{"ueberblick", "Gib mir einen Überblick", IntentSummary},
		{"empty", "", IntentFact},
		{"keyword inside word is fine", "summarizes the findings", IntentSummary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectIntent(tt.query); got != tt.want {
				t.Errorf("DetectIntent(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestShouldUseImageRetrieval(t *testing.T) {
	tests := []struct {
		name  string
		query string
		mode  string
		want  bool
	}{
		{"off ignores keywords", "show me the diagram", "off", false},
		{"on ignores query", "plain text question", "on", true},
		{"auto without keywords", "what does section 2 say", "auto", false},
		{"auto with english keyword", "explain the chart on page 3", "auto", true},
		{"auto with german keyword", "was zeigt die Abbildung?", "auto", true},
		{"auto grafik", "beschreibe die Grafik", "auto", true},
		{"auto screenshot", "look at this screenshot", "auto", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldUseImageRetrieval(tt.query, tt.mode); got != tt.want {
				t.Errorf("ShouldUseImageRetrieval(%q, %q) = %v, want %v", tt.query, tt.mode, got, tt.want)
			}
		})
	}
}

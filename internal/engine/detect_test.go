package engine

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		backend string
		want    string
	}{
		{"", "*engine.OllamaEngine"},
		{BackendOllama, "*engine.OllamaEngine"},
		{BackendOpenAI, "*engine.OpenAIEngine"},
	}
	for _, tt := range tests {
		e, err := Detect(DetectConfig{Backend: tt.backend, BaseURL: "http://localhost:11434"})
		if err != nil {
			t.Fatalf("Detect(%q): %v", tt.backend, err)
		}
		switch e.(type) {
		case *OllamaEngine:
			if tt.want != "*engine.OllamaEngine" {
				t.Errorf("Detect(%q) = %T, want %s", tt.backend, e, tt.want)
			}
		case *OpenAIEngine:
			if tt.want != "*engine.OpenAIEngine" {
				t.Errorf("Detect(%q) = %T, want %s", tt.backend, e, tt.want)
			}
		}
	}
}

func TestDetect_Unknown(t *testing.T) {
	if _, err := Detect(DetectConfig{Backend: "mlx"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

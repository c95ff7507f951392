package testharness_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/thalamus/internal/prompt"
	"github.com/haasonsaas/thalamus/internal/testharness"
)

const routerTemplate = `You are the router for a personal assistant.

Current project: <<PROJECT>>
Topic digest: <<TOPIC_DIGEST>>

Recent conversation:
<<CHAT_TAIL>>

Classify the user's message and reply with a JSON object
{"route": "context"|"world"|"default", "language": "<iso-639-1>"}.

User message: <<USER_TEXT>>
`

// TestPromptSnapshot_Router pins the rendered router prompt so that
// accidental changes to token substitution are caught as a diff, not a
// silent behavior change downstream.
func TestPromptSnapshot_Router(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "router.txt"), []byte(routerTemplate), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}

	r := prompt.NewRenderer(dir)
	rendered, err := r.Render("router", map[string]string{
		"PROJECT":      "aurora",
		"TOPIC_DIGEST": "7c0f8a21d9ee",
		"CHAT_TAIL":    "human: Say hi.\nassistant: Hi.",
		"USER_TEXT":    "What did I say about the trip?",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	g := testharness.NewGoldenAt(t, filepath.Join("testdata", "golden", "prompts"))
	g.AssertNamed("rendered", rendered)
}

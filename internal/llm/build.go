package llm

import (
	"context"
	"log"
	"os"
	"time"

	"courtroom/internal/llmclient"
)

// BuildClient assembles the judgment client from the environment: Gemini
// when an API key is present, otherwise the offline fake. Either way the
// client is wrapped with logging and retries.
func BuildClient(ctx context.Context) llmclient.Client {
	var inner llmclient.Client
	if os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != "" {
		cli, err := llmclient.NewGeminiClient(ctx, os.Getenv("COURTROOM_MODEL"))
		if err != nil {
			log.Printf("llm: gemini unavailable (%v), using fake client", err)
		} else {
			inner = cli
		}
	}
	if inner == nil {
		fake := llmclient.NewFakeClient()
		fake.Default = []byte(`{"score": 3, "argument": "Offline evaluation; no model configured.", "cited_evidence": []}`)
		inner = fake
	}
	log.Printf("llm: using client %s", inner.Name())
	return Wrap(inner,
		WithLogging(nil),
		Retry(3, 500*time.Millisecond),
	)
}

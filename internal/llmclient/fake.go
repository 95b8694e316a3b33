package llmclient

import (
	"context"
	"encoding/json"
	"sync"
)

// FakeClient returns scripted JSON payloads for offline use and tests.
// Respond, when set, decides per call; otherwise queued responses are
// consumed in order, then Default is repeated.
type FakeClient struct {
	mu      sync.Mutex
	queue   []json.RawMessage
	calls   int
	Respond func(prompt string, input any) (json.RawMessage, error)
	Default json.RawMessage
	Err     error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{Default: json.RawMessage(`{}`)}
}

// Enqueue appends a canned response consumed by the next call.
func (f *FakeClient) Enqueue(raw string) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, json.RawMessage(raw))
	return f
}

// Calls reports how many GenerateJSON invocations happened.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	respond := f.Respond
	var queued json.RawMessage
	if len(f.queue) > 0 {
		queued = f.queue[0]
		f.queue = f.queue[1:]
	}
	def, errOut := f.Default, f.Err
	f.mu.Unlock()

	if errOut != nil {
		return nil, errOut
	}
	if respond != nil {
		return respond(prompt, input)
	}
	if queued != nil {
		return queued, nil
	}
	return def, nil
}

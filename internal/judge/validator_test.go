package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtroom/internal/llmclient"
	"courtroom/internal/rubric"
	"courtroom/internal/state"
)

var testCriterion = rubric.Criterion{
	ID:             "graph_orchestration",
	Name:           "Graph Orchestration",
	Instruction:    "Check the workflow wiring.",
	SuccessPattern: "Explicit graph.",
	FailurePattern: "Monolith.",
}

func TestOpinionFirstAttemptSucceeds(t *testing.T) {
	fake := llmclient.NewFakeClient()
	fake.Enqueue(`{"score": 4, "argument": "Clear modular wiring.", "cited_evidence": ["layout scan"]}`)
	v := NewValidator(fake, 3)

	op, err := v.Opinion(context.Background(), state.PersonaDefense, testCriterion, "some evidence", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls())
	assert.Equal(t, state.PersonaDefense, op.Judge)
	assert.Equal(t, testCriterion.ID, op.CriterionID)
	assert.Equal(t, 4, op.Score)
	assert.Equal(t, []string{"layout scan"}, op.CitedEvidence)
}

func TestOpinionRecoversFromFencedJSON(t *testing.T) {
	fake := llmclient.NewFakeClient()
	fake.Enqueue("```json\n{\"score\": 2, \"argument\": \"Weak evidence.\"}\n```")
	v := NewValidator(fake, 3)

	op, err := v.Opinion(context.Background(), state.PersonaProsecutor, testCriterion, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, op.Score)
	assert.Equal(t, 1, fake.Calls())
}

func TestOpinionRetriesThenUsesValidResponse(t *testing.T) {
	fake := llmclient.NewFakeClient()
	fake.Enqueue(`not json at all`)
	fake.Enqueue(`{"score": 9, "argument": "out of range"}`)
	fake.Enqueue(`{"score": 5, "argument": "Solid work."}`)
	v := NewValidator(fake, 3)

	op, err := v.Opinion(context.Background(), state.PersonaTechLead, testCriterion, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.Calls())
	assert.Equal(t, 5, op.Score)
}

// Exhausting all attempts on malformed output yields a neutral placeholder,
// not an error: the panel must stay complete.
func TestOpinionPlaceholderAfterExhaustedAttempts(t *testing.T) {
	fake := llmclient.NewFakeClient()
	fake.Default = []byte(`{"wrong": "shape"}`)
	v := NewValidator(fake, 3)

	op, err := v.Opinion(context.Background(), state.PersonaProsecutor, testCriterion, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, fake.Calls())
	assert.Equal(t, placeholderScore, op.Score)
	assert.GreaterOrEqual(t, op.Score, 1)
	assert.LessOrEqual(t, op.Score, 5)
	assert.Contains(t, op.Argument, "could not be parsed")
	assert.Empty(t, op.CitedEvidence)
}

func TestOpinionErrorsWhenClientNeverAnswers(t *testing.T) {
	fake := llmclient.NewFakeClient()
	fake.Err = errors.New("connection refused")
	v := NewValidator(fake, 2)

	_, err := v.Opinion(context.Background(), state.PersonaDefense, testCriterion, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 2, fake.Calls())
}

func TestOpinionStopsOnPermanentError(t *testing.T) {
	fake := llmclient.NewFakeClient()
	fake.Err = llmclient.NewPermanentError(errors.New("invalid api key"))
	v := NewValidator(fake, 5)

	_, err := v.Opinion(context.Background(), state.PersonaDefense, testCriterion, "", nil)
	require.Error(t, err)
	assert.Equal(t, 1, fake.Calls())
}

// hangingClient never answers; it only returns when the call's context
// expires.
type hangingClient struct {
	calls int
}

func (h *hangingClient) Name() string { return "hanging" }
func (h *hangingClient) Close() error { return nil }

func (h *hangingClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	h.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

// A hung call must hit the per-attempt deadline and surface as an error
// instead of stalling the panel.
func TestOpinionBoundsHungCalls(t *testing.T) {
	hung := &hangingClient{}
	v := NewValidator(hung, 2)
	v.Timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := v.Opinion(context.Background(), state.PersonaDefense, testCriterion, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, hung.calls)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// The caller's own cancellation wins over further attempts.
func TestOpinionStopsOnCallerCancellation(t *testing.T) {
	hung := &hangingClient{}
	v := NewValidator(hung, 5)
	v.Timeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := v.Opinion(ctx, state.PersonaDefense, testCriterion, "", nil)
	require.Error(t, err)
	assert.Equal(t, 1, hung.calls)
}

func TestRetryPromptDemandsLiteralJSON(t *testing.T) {
	var prompts []string
	fake := llmclient.NewFakeClient()
	fake.Respond = func(prompt string, input any) (json.RawMessage, error) {
		prompts = append(prompts, prompt)
		return json.RawMessage(`garbage`), nil
	}
	v := NewValidator(fake, 2)

	_, err := v.Opinion(context.Background(), state.PersonaTechLead, testCriterion, "", nil)
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "ONLY a valid JSON object")
	assert.Contains(t, prompts[1], "ONLY a valid JSON object")
}

func TestNormalizeCapsArgumentAndCitations(t *testing.T) {
	long := strings.Repeat("x", maxArgumentLen+500)
	cites := make([]string, maxCitations+5)
	for i := range cites {
		cites[i] = fmt.Sprintf("e%d", i)
	}
	op := normalize(state.PersonaDefense, testCriterion, rawOpinion{Score: 4, Argument: long, CitedEvidence: cites})
	assert.Len(t, op.Argument, maxArgumentLen)
	assert.Len(t, op.CitedEvidence, maxCitations)
}

func TestExtractJSONObject(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
		ok   bool
	}{
		"bare":     {`{"a":1}`, `{"a":1}`, true},
		"fenced":   {"```json\n{\"a\":1}\n```", `{"a":1}`, true},
		"embedded": {`Here you go: {"a":{"b":2}} hope that helps`, `{"a":{"b":2}}`, true},
		"braces in strings": {`{"a":"} tricky {"}`, `{"a":"} tricky {"}`, true},
		"no object":         {"nothing here", "", false},
		"unbalanced":        {`{"a":`, "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := extractJSONObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.JSONEq(t, tc.want, got)
			}
		})
	}
}

func TestEvidenceSummaryCaps(t *testing.T) {
	evs := make([]state.Evidence, 8)
	for i := range evs {
		evs[i] = state.Evidence{
			Goal:     "g",
			Found:    true,
			Content:  strings.Repeat("c", maxSnippetLen+100),
			Location: fmt.Sprintf("loc%d", i),
		}
	}
	sum := EvidenceSummary(map[string][]state.Evidence{"g": evs}, "g")
	assert.LessOrEqual(t, len(sum), maxSummaryLen)
	assert.Equal(t, "", EvidenceSummary(nil, "g"))
}

package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"courtroom/internal/llm"
	"courtroom/internal/llmclient"
	"courtroom/internal/rubric"
	"courtroom/internal/state"
)

const (
	defaultAttempts = 3
	defaultTimeout  = 90 * time.Second

	maxArgumentLen    = 2000
	maxCitations      = 10
	maxSummaryItems   = 5
	maxSummaryLen     = 1200
	maxSnippetLen     = 400
	placeholderScore  = 3
)

// opinionShape is the JSON contract every persona must satisfy.
const opinionShape = `{"score": <integer 1-5>, "argument": "<string>", "cited_evidence": ["<string>", ...]}`

// Validator turns one (persona, criterion, evidence) triple into exactly one
// well-formed Opinion. The first attempt describes the schema in the prompt;
// retries demand literal JSON only. When every attempt yields output that
// fails the shape check, a placeholder Opinion is returned instead of an
// error. An error comes back only when the client never produced output.
// Every attempt runs under a deadline so a hung call fails instead of
// stalling the panel.
type Validator struct {
	cli      llmclient.Client
	attempts int
	// Timeout bounds one call attempt. Zero or negative means the default.
	Timeout time.Duration
}

func NewValidator(cli llmclient.Client, attempts int) *Validator {
	if attempts < 1 {
		attempts = defaultAttempts
	}
	return &Validator{cli: cli, attempts: attempts, Timeout: defaultTimeout}
}

func (v *Validator) timeout() time.Duration {
	if v.Timeout <= 0 {
		return defaultTimeout
	}
	return v.Timeout
}

type rawOpinion struct {
	Score         int      `json:"score"`
	Argument      string   `json:"argument"`
	CitedEvidence []string `json:"cited_evidence"`
}

// Opinion runs the validated call loop for one criterion.
func (v *Validator) Opinion(ctx context.Context, persona state.Persona, c rubric.Criterion, evidence string, rules map[string]string) (state.Opinion, error) {
	ctx = llm.WithStage(ctx, "judge:"+string(persona))
	input := map[string]any{
		"criterion_id": c.ID,
		"instruction":  c.Instruction,
		"evidence":     evidence,
	}

	var callErr error
	gotOutput := false
	for attempt := 0; attempt < v.attempts; attempt++ {
		prompt := v.buildPrompt(persona, c, evidence, rules, attempt > 0)
		attemptCtx, cancel := context.WithTimeout(ctx, v.timeout())
		raw, err := v.cli.GenerateJSON(attemptCtx, prompt, input)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return state.Opinion{}, fmt.Errorf("judge %s on %s: %w", persona, c.ID, ctx.Err())
			}
			if llmclient.IsPermanent(err) {
				return state.Opinion{}, fmt.Errorf("judge %s on %s: %w", persona, c.ID, err)
			}
			callErr = err
			continue
		}
		gotOutput = true
		op, ok := decodeOpinion(raw)
		if !ok {
			continue
		}
		return normalize(persona, c, op), nil
	}

	if !gotOutput && callErr != nil {
		return state.Opinion{}, fmt.Errorf("judge %s on %s: %w", persona, c.ID, callErr)
	}
	// Malformed output on every attempt: a neutral placeholder keeps the
	// panel complete so synthesis never stalls on one judge.
	return state.Opinion{
		Judge:       persona,
		CriterionID: c.ID,
		Score:       placeholderScore,
		Argument:    fmt.Sprintf("Opinion could not be parsed after %d attempts; neutral score assigned.", v.attempts),
	}, nil
}

func (v *Validator) buildPrompt(persona state.Persona, c rubric.Criterion, evidence string, rules map[string]string, strict bool) string {
	var b strings.Builder
	b.WriteString(SystemPrompt(persona))
	b.WriteString("\n\n")
	if len(rules) > 0 {
		b.WriteString("Standing rules:\n")
		for _, k := range sortedKeys(rules) {
			fmt.Fprintf(&b, "- %s: %s\n", k, rules[k])
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Criterion %q (%s): %s\n", c.ID, c.Name, c.Instruction)
	if c.SuccessPattern != "" {
		fmt.Fprintf(&b, "Success looks like: %s\n", c.SuccessPattern)
	}
	if c.FailurePattern != "" {
		fmt.Fprintf(&b, "Failure looks like: %s\n", c.FailurePattern)
	}
	b.WriteString("\nEvidence:\n")
	if evidence == "" {
		b.WriteString("(none collected)\n")
	} else {
		b.WriteString(evidence)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(roleReminders[persona])
	b.WriteString("\n")
	if strict {
		fmt.Fprintf(&b, "Respond with ONLY a valid JSON object and nothing else. Exact shape: %s\n", opinionShape)
	} else {
		fmt.Fprintf(&b, "Return a JSON object of the shape %s. Score is an integer from 1 to 5.\n", opinionShape)
	}
	return b.String()
}

// normalize applies the output caps. Length limits are normalization, not
// schema violations.
func normalize(persona state.Persona, c rubric.Criterion, op rawOpinion) state.Opinion {
	arg := op.Argument
	if len(arg) > maxArgumentLen {
		arg = arg[:maxArgumentLen]
	}
	cites := op.CitedEvidence
	if len(cites) > maxCitations {
		cites = cites[:maxCitations]
	}
	return state.Opinion{
		Judge:         persona,
		CriterionID:   c.ID,
		Score:         op.Score,
		Argument:      arg,
		CitedEvidence: cites,
	}
}

// decodeOpinion parses raw into the required shape. A score outside [1,5] or
// an empty argument is a shape violation and triggers a retry.
func decodeOpinion(raw json.RawMessage) (rawOpinion, bool) {
	var op rawOpinion
	payload, ok := extractJSONObject(string(raw))
	if !ok {
		return op, false
	}
	if err := json.Unmarshal([]byte(payload), &op); err != nil {
		return op, false
	}
	if op.Score < 1 || op.Score > 5 {
		return op, false
	}
	if strings.TrimSpace(op.Argument) == "" {
		return op, false
	}
	return op, true
}

// extractJSONObject recovers a JSON object from text that may wrap it in
// markdown fences or prose. It returns the first balanced {...} region.
func extractJSONObject(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		}
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	if json.Valid([]byte(text)) && strings.HasPrefix(text, "{") {
		return text, true
	}
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}

// EvidenceSummary renders the evidence for one criterion as a capped plain
// text block fit for a prompt. At most five items, each content snippet cut
// to 400 chars, whole block cut to 1200.
func EvidenceSummary(evidence map[string][]state.Evidence, criterionID string) string {
	items := evidence[criterionID]
	if len(items) == 0 {
		return ""
	}
	if len(items) > maxSummaryItems {
		items = items[:maxSummaryItems]
	}
	var b strings.Builder
	for i, e := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- found=%v (%.1f) at %s: %s", e.Found, e.Confidence, e.Location, snippet(e.Content))
		if e.Rationale != "" {
			fmt.Fprintf(&b, " [%s]", e.Rationale)
		}
	}
	out := b.String()
	if len(out) > maxSummaryLen {
		out = out[:maxSummaryLen]
	}
	return out
}

func snippet(s string) string {
	if len(s) > maxSnippetLen {
		return s[:maxSnippetLen] + "..."
	}
	return s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

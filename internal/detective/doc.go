package detective

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"courtroom/internal/rubric"
	"courtroom/internal/state"
)

const docMaxBytes = 4 << 20

// conceptTerms are searched in the document for the theoretical-depth goal.
// A term counts double when it appears inside a detailed section (one whose
// heading mentions design, architecture, or implementation).
var conceptTerms = []string{
	"orchestration", "fan-out", "fan-in", "barrier", "reducer", "merge policy",
	"state graph", "consensus", "dissent", "synthesis", "concurrency",
}

// DocAnalyst ingests a textual document (local path or URL) and searches it
// for the concepts the document-targeted criteria ask about.
type DocAnalyst struct {
	Timeout time.Duration
	// HTTPClient is swappable for tests; nil means http.DefaultClient.
	HTTPClient *http.Client
}

func NewDocAnalyst() *DocAnalyst {
	return &DocAnalyst{Timeout: 60 * time.Second}
}

func (d *DocAnalyst) Capability() string { return rubric.CapabilityDocument }

func (d *DocAnalyst) Collect(ctx context.Context, subject state.Subject, criteria []rubric.Criterion) ([]state.Evidence, error) {
	if !subject.HasDoc() {
		return missing(criteria, "", "no document supplied"), nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	text, err := d.ingest(ctx, subject.DocPath)
	if err != nil {
		return missing(criteria, subject.DocPath, truncate(err.Error(), 200)), nil
	}

	hits, inDetail := searchConcepts(text)
	out := make([]state.Evidence, 0, len(criteria))
	for _, c := range criteria {
		switch c.ID {
		case "theoretical_depth":
			content := strings.Join(headN(hits, 3), "; ")
			if content == "" {
				content = "no matching concept terms"
			}
			conf := 0.4
			if inDetail {
				conf = 0.8
			}
			out = append(out, state.Evidence{
				Goal: c.ID, Found: len(hits) > 0, Content: content,
				Location:  subject.DocPath,
				Rationale: fmt.Sprintf("term search; in_detailed_section=%v", inDetail),
				Confidence: conf,
			})
		default:
			out = append(out, state.Evidence{
				Goal: c.ID, Found: len(text) > 0,
				Content:  fmt.Sprintf("document ingested: %d bytes, %d concept hits", len(text), len(hits)),
				Location: subject.DocPath, Rationale: "document ingested and searched", Confidence: 0.6,
			})
		}
	}
	return out, nil
}

func (d *DocAnalyst) timeout() time.Duration {
	if d.Timeout <= 0 {
		return 60 * time.Second
	}
	return d.Timeout
}

// ingest reads the document body from a local file or an http(s) URL.
func (d *DocAnalyst) ingest(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return "", err
		}
		cli := d.HTTPClient
		if cli == nil {
			cli = http.DefaultClient
		}
		resp, err := cli.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetch document: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("fetch document: status %d", resp.StatusCode)
		}
		raw, err := io.ReadAll(io.LimitReader(resp.Body, docMaxBytes))
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	raw, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	if len(raw) > docMaxBytes {
		raw = raw[:docMaxBytes]
	}
	return string(raw), nil
}

// searchConcepts returns sentences containing concept terms and whether any
// hit sits under a detailed-looking heading.
func searchConcepts(text string) (hits []string, inDetail bool) {
	lower := strings.ToLower(text)
	detailed := false
	for _, line := range strings.Split(lower, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "#") {
			detailed = strings.Contains(t, "design") || strings.Contains(t, "architecture") || strings.Contains(t, "implementation")
			continue
		}
		for _, term := range conceptTerms {
			if strings.Contains(t, term) {
				hits = append(hits, truncate(t, 160))
				if detailed {
					inDetail = true
				}
				break
			}
		}
		if len(hits) >= 20 {
			break
		}
	}
	return hits, inDetail
}

// DocReachable reports whether a derived document URL answers 200 to a HEAD
// request, used before adopting a conventional default document location.
func DocReachable(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

package detective

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"courtroom/internal/rubric"
	"courtroom/internal/state"
)

var (
	reDataURL  = regexp.MustCompile(`(?is)\bdata:image/[a-z0-9+.-]+;base64,[a-z0-9+/=\r\n]{64,}`)
	reMarkdown = regexp.MustCompile(`!\[[^\]]*\]\(([^)]+)\)`)
	reImgTag   = regexp.MustCompile(`(?is)<img[^>]*src=["'][^"']+["'][^>]*>`)
)

// MediaInspector detects embedded figures in the subject document: inline
// base64 payloads, markdown image references, and HTML img tags. Visual
// judgment beyond presence counting is left to the evaluators.
type MediaInspector struct {
	Timeout time.Duration
	doc     *DocAnalyst
}

func NewMediaInspector() *MediaInspector {
	return &MediaInspector{Timeout: 60 * time.Second, doc: NewDocAnalyst()}
}

func (m *MediaInspector) Capability() string { return rubric.CapabilityDocImages }

func (m *MediaInspector) Collect(ctx context.Context, subject state.Subject, criteria []rubric.Criterion) ([]state.Evidence, error) {
	if !subject.HasDoc() {
		return missing(criteria, "", "no document supplied"), nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout())
	defer cancel()

	text, err := m.doc.ingest(ctx, subject.DocPath)
	if err != nil {
		return missing(criteria, subject.DocPath, truncate(err.Error(), 200)), nil
	}

	embedded := len(reDataURL.FindAllStringIndex(text, -1))
	refs := len(reMarkdown.FindAllStringIndex(text, -1)) + len(reImgTag.FindAllStringIndex(text, -1))
	total := embedded + refs

	out := make([]state.Evidence, 0, len(criteria))
	for _, c := range criteria {
		conf := 0.0
		if total > 0 {
			conf = 0.5
		}
		out = append(out, state.Evidence{
			Goal:  c.ID,
			Found: total > 0,
			Content: fmt.Sprintf("%d figure(s): %d embedded, %d referenced", total, embedded, refs),
			Location:   subject.DocPath,
			Rationale:  "embedded media scan",
			Confidence: conf,
		})
	}
	return out, nil
}

func (m *MediaInspector) timeout() time.Duration {
	if m.Timeout <= 0 {
		return 60 * time.Second
	}
	return m.Timeout
}

// Package render turns summaries and handoff documents into sanitized HTML
// for display outside the model, such as dashboards or the CLI.
package render

import (
	"bytes"
	"fmt"
	"html"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/youssefsiam38/agentctx/compaction"
	"github.com/youssefsiam38/agentctx/types"
)

// Renderer converts Markdown to HTML with goldmark and sanitizes the result
// with bluemonday. Summary text comes from models and users, so raw HTML is
// passed through goldmark and removed by the policy rather than escaped.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// New returns a Renderer with GitHub-flavoured Markdown and bluemonday's
// user-generated-content policy.
func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(goldhtml.WithUnsafe()),
		),
		policy: bluemonday.UGCPolicy(),
	}
}

// HTML renders markdown as a sanitized HTML fragment.
func (r *Renderer) HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

// Summary renders s as it appears in a compacted-context message.
func (r *Renderer) Summary(s *types.StructuredSummary) (string, error) {
	return r.HTML(compaction.RenderSummary(s))
}

// Handoff renders doc as it is injected into the new thread.
func (r *Renderer) Handoff(doc *types.HandoffDocument) (string, error) {
	return r.HTML(compaction.RenderInjection(doc))
}

// Page wraps the rendered markdown in a standalone HTML document.
func (r *Renderer) Page(title, markdown string) (string, error) {
	body, err := r.HTML(markdown)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(pageTemplate, html.EscapeString(title), body), nil
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s</body>
</html>
`

package summarizer

import (
	"strings"

	"github.com/iabetor/newslens/internal/summary"
)

var personaPrompts = map[summary.Persona]string{
	summary.Dev: `You are a software developer. Summarize this article in ONE sentence from a developer's perspective.
Focus on: implementation, technology, code, tools, architecture, frameworks.
Article Title: "{title}"
Article: "{description}"
Summary:`,

	summary.Design: `You are a product designer. Summarize this article in ONE sentence from a designer's perspective.
Focus on: UX/UI, user experience, visual design, components, prototyping, accessibility.
Article Title: "{title}"
Article: "{description}"
Summary:`,

	summary.Product: `You are a product manager. Summarize this article in ONE sentence from a product manager's perspective.
Focus on: market fit, strategy, business impact, user value, growth, metrics, competitiveness.
Article Title: "{title}"
Article: "{description}"
Summary:`,
}

// BuildPrompt 用截断后的标题和描述填充视角模板。
func BuildPrompt(p summary.Persona, title, description string) string {
	r := strings.NewReplacer(
		"{title}", truncate(title, promptTitleLen),
		"{description}", truncate(description, promptDescriptionLen),
	)
	return r.Replace(personaPrompts[p])
}

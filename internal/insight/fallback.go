package insight

import (
	"fmt"
	"math/rand"
	"strings"
)

var stopWords = toSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by",
	"is", "are", "was", "were", "be", "been", "being", "have", "has", "had", "do", "does", "did",
	"will", "would", "could", "should", "may", "might", "must", "shall", "can", "need", "dare",
	"ought", "used", "it", "its", "you", "your", "we", "our", "they", "their", "this", "that",
	"these", "those", "what", "which", "who", "whom", "whose", "where", "when", "why", "how",
	"all", "each", "every", "both", "few", "more", "most", "other", "some", "such", "no", "nor",
	"not", "only", "own", "same", "so", "than", "too", "very", "just", "also", "now", "here",
	"there", "then", "once", "from", "into", "about", "after", "before", "above", "below",
	"between", "under", "again", "further",
)

// 模板参数依次为 主题、上下文关键词
var fallbackTemplates = map[string][]string{
	"design": {
		`The topic "%[1]s" calls for interfaces that balance technical complexity with visual clarity. UX professionals should map specific user journeys, identify friction points and build prototypes that validate hypotheses about %[2]s. Usability testing with real users is essential to make sure the solution meets genuine needs rather than the product team's assumptions.`,
		`When approaching "%[1]s", designers need to consider information hierarchy, clear affordances and immediate feedback. The experience should guide users naturally through %[2]s while minimizing cognitive load. Design system patterns keep things consistent, and well executed micro-interactions raise engagement and the perceived quality of the final product.`,
		`"%[1]s" raises user-centered design challenges related to %[2]s. Qualitative research is key to understanding real usage contexts, building data-driven personas and iterating quickly on wireframes. Accessibility must be a priority from the start so the solution works for every user profile identified.`,
	},
	"dev": {
		`Implementing features around "%[1]s" requires a scalable, maintainable architecture. Consider patterns such as %[2]s to organize business logic. Automated tests across layers, solid CI/CD and production monitoring are fundamental. Document technical decisions to ease onboarding and future maintenance by other developers on the team.`,
		`Building solutions for "%[1]s" demands careful evaluation of technical trade-offs involving %[2]s. Performance, security and developer experience should guide stack choices. Add observability from day one with structured logs, business metrics and proactive alerts to catch problems before they affect users in production.`,
		`"%[1]s" calls for a technical approach that treats %[2]s as critical factors. Well documented APIs, clear contracts between services and semantic versioning make the system easier to evolve. Prefer readable code over clever code and make code review mandatory to keep quality high and spread knowledge across the team.`,
	},
	"business": {
		`"%[1]s" represents a market opportunity that requires analysis of %[2]s for informed decision making. Companies should size TAM/SAM/SOM, identify sustainable competitive advantages and define clear success metrics. Controlled pilots reduce risk before larger investments, and feedback from early adopters validates product-market fit.`,
		`The evolution of "%[1]s" in the context of %[2]s demands an adaptive business strategy. Leaders should assess the impact on existing business models, find strategic partnerships and allocate resources to upskill teams. ROI should account not only for direct gains but also for medium and long term competitive positioning.`,
		`From a business standpoint, "%[1]s" connects with trends in %[2]s that may define winners and losers in the sector. Rigorous due diligence, competitive benchmarking and scenario analysis are essential. Investment decisions should balance innovation with risk management while staying focused on sustainable value for stakeholders.`,
	},
}

// Fallback 从标题和描述中提取关键词，填入随机选取的视角模板。未知视角使用 dev 模板。
func Fallback(title, description, perspective string, rnd *rand.Rand) string {
	topic := strings.Join(firstN(keywords(title, 2), 3), " ")
	if topic == "" {
		topic = truncate(title, 30)
	}

	focus := strings.Join(firstN(keywords(description, 3), 5), ", ")
	if focus == "" {
		focus = "technology"
	}

	templates, ok := fallbackTemplates[perspective]
	if !ok {
		templates = fallbackTemplates[DefaultPerspective]
	}
	return fmt.Sprintf(templates[rnd.Intn(len(templates))], topic, focus)
}

// keywords 把非单词字符替换为空格后按空白切分，保留长度大于 minLen 且不是停用词的小写词。
func keywords(s string, minLen int) []string {
	cleaned := strings.Map(func(r rune) rune {
		if isWordChar(r) {
			return r
		}
		return ' '
	}, strings.ToLower(s))

	var out []string
	for _, w := range strings.Fields(cleaned) {
		if len(w) > minLen && !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

func isWordChar(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func firstN(words []string, n int) []string {
	if len(words) > n {
		return words[:n]
	}
	return words
}

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

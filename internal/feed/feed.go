// Package feed 抓取并解析 RSS/Atom 订阅源，输出规整后的原始条目。
package feed

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// MaxDescriptionLen 纯文本描述的最大字符数。
const MaxDescriptionLen = 200

// Source 一个订阅源。
type Source struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Category string `json:"category"`
}

// Item 订阅源中的一个条目，描述已去除标记。
type Item struct {
	GUID        string     `json:"guid,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Link        string     `json:"link"`
	Published   *time.Time `json:"published,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
}

// 这些标签前后补空格，避免相邻段落的文字粘连
var blockTags = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "td": true, "th": true, "blockquote": true, "figure": true, "figcaption": true,
}

// StripMarkup 去除 HTML 标签并反转义实体，合并连续空白，截断到 maxLen 个字符（不加省略号）。
// maxLen <= 0 时不截断。script 和 style 的内容直接丢弃。
func StripMarkup(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	skip := 0
	z := html.NewTokenizer(strings.NewReader(s))
loop:
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF 或畸形输入，保留已解析的部分
			break loop
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				if tt == html.StartTagToken {
					skip++
				} else if tt == html.EndTagToken && skip > 0 {
					skip--
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte(' ')
			}
		}
	}

	out := strings.Join(strings.Fields(b.String()), " ")
	if maxLen > 0 && utf8.RuneCountInString(out) > maxLen {
		out = strings.TrimSpace(string([]rune(out)[:maxLen]))
	}
	return out
}

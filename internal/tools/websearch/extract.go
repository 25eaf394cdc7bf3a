package websearch

import (
	"regexp"
	"strings"
)

var (
	scriptTagRe  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptRe   = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	iframeRe     = regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe>`)
	navRe        = regexp.MustCompile(`(?is)<nav[^>]*>.*?</nav>`)
	headerTagRe  = regexp.MustCompile(`(?is)<header[^>]*>.*?</header>`)
	footerTagRe  = regexp.MustCompile(`(?is)<footer[^>]*>.*?</footer>`)
	asideRe      = regexp.MustCompile(`(?is)<aside[^>]*>.*?</aside>`)
	titleTagRe   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	mainTagRe    = regexp.MustCompile(`(?is)<main[^>]*>(.*?)</main>`)
	articleTagRe = regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`)
	bodyTagRe    = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
	anyTagRe     = regexp.MustCompile(`<[^>]*>`)
	blockOpenRe  = regexp.MustCompile(`(?i)<(p|div|h1|h2|h3|h4|h5|h6|li|br)[^>]*>`)
	blockCloseRe = regexp.MustCompile(`(?i)</(p|div|h1|h2|h3|h4|h5|h6|li)>`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
	wsRunRe      = regexp.MustCompile(`[^\S\n]+`)

	contentContainerPatterns = []*regexp.Regexp{
		mainTagRe,
		articleTagRe,
		regexp.MustCompile(`(?is)<div[^>]*class=["'][^"']*content[^"']*["'][^>]*>(.*?)</div>`),
		regexp.MustCompile(`(?is)<div[^>]*id=["']content["'][^>]*>(.*?)</div>`),
		regexp.MustCompile(`(?is)<div[^>]*role=["']main["'][^>]*>(.*?)</div>`),
	}
)

// extractReadableText implements the same simplified readability pipeline
// as the teacher's ContentExtractor: strip chrome tags, pull the title and
// the densest content container, fall back to the whole body, then
// normalize whitespace.
func extractReadableText(html string) string {
	html = scriptTagRe.ReplaceAllString(html, "")
	html = styleTagRe.ReplaceAllString(html, "")
	html = noscriptRe.ReplaceAllString(html, "")
	html = iframeRe.ReplaceAllString(html, "")
	html = navRe.ReplaceAllString(html, "")
	html = headerTagRe.ReplaceAllString(html, "")
	html = footerTagRe.ReplaceAllString(html, "")
	html = asideRe.ReplaceAllString(html, "")

	title := ""
	if m := titleTagRe.FindStringSubmatch(html); len(m) > 1 {
		title = cleanText(m[1])
	}

	content := extractMainContent(html)
	if content == "" {
		if m := bodyTagRe.FindStringSubmatch(html); len(m) > 1 {
			content = htmlToText(m[1])
		}
	}
	content = cleanText(content)

	var out strings.Builder
	if title != "" {
		out.WriteString("Title: ")
		out.WriteString(title)
		out.WriteString("\n\n")
	}
	out.WriteString(content)
	return out.String()
}

func extractMainContent(html string) string {
	for _, re := range contentContainerPatterns {
		m := re.FindStringSubmatch(html)
		if len(m) < 2 {
			continue
		}
		text := htmlToText(m[1])
		if len(strings.TrimSpace(text)) > 200 {
			return text
		}
	}
	return ""
}

func htmlToText(fragment string) string {
	fragment = blockOpenRe.ReplaceAllString(fragment, "\n")
	fragment = blockCloseRe.ReplaceAllString(fragment, "\n")
	return anyTagRe.ReplaceAllString(fragment, "")
}

func cleanText(text string) string {
	replacer := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
	)
	text = replacer.Replace(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(wsRunRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

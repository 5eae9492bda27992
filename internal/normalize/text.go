package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	blockBreakExpr = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>|</tr>|</h[1-6]>`)
	mentionExpr    = regexp.MustCompile(`@<([\w-]+)>`)
	imageExpr      = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkExpr       = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)]+)\)`)
	urlExpr        = regexp.MustCompile(`https?://\S+`)
	ruleExpr       = regexp.MustCompile(`-{3,}`)
	mathBlockExpr  = regexp.MustCompile(`(?s)\$\$(.+?)\$\$`)
	mathInlineExpr = regexp.MustCompile(`\$(.+?)\$`)
	latexTextExpr  = regexp.MustCompile(`\\text\{(.+?)\}`)
	codeSpanExpr   = regexp.MustCompile("`(.+?)`")
	markerExpr     = regexp.MustCompile(`[*#>{}]+`)
	spaceExpr      = regexp.MustCompile(`[ \t]+`)
)

var latexSymbols = strings.NewReplacer(
	`\leq`, "<=",
	`\geq`, ">=",
	`\times`, "*",
	`\cdot`, "*",
	`\pm`, "+/-",
	`\neq`, "!=",
	`\approx`, "~",
	`\to`, "->",
)

// cleanText reduces rich text (HTML plus markdown leftovers) to plain text.
// Block-level tags become line breaks so paragraph structure survives;
// attributes, styling and embedded media are discarded.
func (n *Normalizer) cleanText(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}

	text, err := stripHTML(raw)
	if err != nil {
		return "", err
	}

	text = n.replaceMentions(text)
	text = strings.ReplaceAll(text, "@", "")
	text = imageExpr.ReplaceAllString(text, "[IMAGE]")
	text = tablesToSentences(text)
	text = replaceLinks(text)
	text = urlExpr.ReplaceAllString(text, "[LINK]")
	text = mathBlockExpr.ReplaceAllString(text, "$1")
	text = mathInlineExpr.ReplaceAllString(text, "$1")
	text = latexSymbols.Replace(text)
	text = latexTextExpr.ReplaceAllString(text, "$1")
	text = codeSpanExpr.ReplaceAllString(text, "$1")
	text = ruleExpr.ReplaceAllString(text, " ")
	text = markerExpr.ReplaceAllString(text, "")

	return collapseWhitespace(text), nil
}

func stripHTML(raw string) (string, error) {
	withBreaks := blockBreakExpr.ReplaceAllString(raw, "\n")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(withBreaks))
	if err != nil {
		return "", fmt.Errorf("parse markup: %w", err)
	}
	return doc.Text(), nil
}

// replaceMentions swaps @<GUID> mention tokens for the canonical author name
// from the configured alias table.
func (n *Normalizer) replaceMentions(text string) string {
	return mentionExpr.ReplaceAllStringFunc(text, func(match string) string {
		id := mentionExpr.FindStringSubmatch(match)[1]
		if name, ok := n.authors[strings.ToUpper(id)]; ok {
			return name
		}
		return "[UNKNOWN]"
	})
}

// replaceLinks rewrites markdown links. Attachment links keep their file
// name, everything else keeps its readable text.
func replaceLinks(text string) string {
	return linkExpr.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkExpr.FindStringSubmatch(match)
		label, target := strings.TrimSpace(parts[1]), parts[2]
		if strings.Contains(target, "_apis/wit/attachments/") && strings.Contains(target, "fileName=") {
			name := target[strings.LastIndex(target, "fileName=")+len("fileName="):]
			if idx := strings.IndexByte(name, '&'); idx >= 0 {
				name = name[:idx]
			}
			return "[FILE: " + name + "]"
		}
		return "[LINK: " + label + "]"
	})
}

// tablesToSentences flattens markdown tables into natural-language rows so
// tabular data still embeds usefully:
//
//	|ISID|ROLE|          "Row: ISID = DBEAM, ROLE = ADMIN."
//	|----|----|     =>
//	|DBEAM|ADMIN|
func tablesToSentences(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	for i := 0; i < len(lines); {
		if !strings.HasPrefix(strings.TrimSpace(lines[i]), "|") {
			out = append(out, lines[i])
			i++
			continue
		}

		j := i
		for j < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[j]), "|") {
			j++
		}

		block := lines[i:j]
		if len(block) < 3 {
			out = append(out, block...)
			i = j
			continue
		}

		headers := splitTableRow(block[0])
		for _, row := range block[2:] { // skip header + separator
			values := splitTableRow(row)
			if len(values) != len(headers) {
				continue
			}
			pairs := make([]string, len(headers))
			for k := range headers {
				pairs[k] = headers[k] + " = " + values[k]
			}
			out = append(out, "Row: "+strings.Join(pairs, ", ")+".")
		}
		i = j
	}

	return strings.Join(out, "\n")
}

func splitTableRow(line string) []string {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	cells := strings.Split(trimmed, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

// collapseWhitespace squeezes runs of spaces inside lines and runs of blank
// lines between them, keeping single line breaks intact.
func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := true // swallow leading blanks

	for _, line := range lines {
		line = strings.TrimSpace(spaceExpr.ReplaceAllString(line, " "))
		if line == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		out = append(out, line)
		blank = false
	}

	return strings.Join(out, "\n")
}

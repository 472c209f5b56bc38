// Package extract turns rich-text issue bodies into structured test cases.
//
// The grammar is a fixed bilingual keyword format authored by humans in Jira
// comments:
//
//	TC01 - Login Check
//	Senaryo: ...
//	Beklenen Sonuç: ...
//	Durum: PASSED
//
// English keywords (Scenario / Expected Result / Status) are accepted
// interchangeably. The grammar is deliberately narrow; blocks that do not
// carry the full keyword sequence are dropped whole rather than partially
// recovered.
package extract

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/selimerdinc/VeloxCase/internal/models"
)

var (
	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>`)
	tagRe       = regexp.MustCompile(`<[^>]+>`)

	// blockStartRe marks candidate case block boundaries. A TC-followed-by-
	// digit occurrence ends the previous block's expected-result text, but a
	// bare reference inside a scenario ("TC2'deki adımları tekrarla") must
	// not split its block; Cases extends past those.
	blockStartRe = regexp.MustCompile(`(?i)TC\d`)

	caseNumRe     = regexp.MustCompile(`(?i)^TC(\d+)`)
	scenarioKeyRe = regexp.MustCompile(`(?i)(?:Senaryo|Scenario):?\s*`)
	expectedKeyRe = regexp.MustCompile(`(?i)(?:Beklenen Sonuç|Expected Result):?\s*`)
	statusKeyRe   = regexp.MustCompile(`(?i)(?:Durum|Status):\s*`)
)

// Normalize strips markup from a rich-text body, preserving paragraph and
// line breaks as newlines and unescaping HTML entities. Malformed markup
// degrades best-effort; it never fails.
func Normalize(htmlText string) string {
	if htmlText == "" {
		return ""
	}
	text := lineBreakRe.ReplaceAllString(htmlText, "\n")
	text = tagRe.ReplaceAllString(text, "")
	return html.UnescapeString(text)
}

// Cases scans normalized text for TC blocks and returns the extracted test
// cases in document order. Input that contains no well-formed block yields
// an empty slice.
func Cases(text string) []models.TestCase {
	starts := blockStartRe.FindAllStringIndex(text, -1)

	var cases []models.TestCase
	for i := 0; i < len(starts); i++ {
		// Only the expected-result segment is bounded by the next TC
		// occurrence. A TC reference inside the scenario text is not a
		// boundary, so a candidate that fails for a missing keyword is
		// extended through the following occurrence and re-parsed.
		for j := i; j < len(starts); j++ {
			end := len(text)
			if j+1 < len(starts) {
				end = starts[j+1][0]
			}
			c, ok := parseBlock(text[starts[i][0]:end])
			if !ok {
				continue
			}
			cases = append(cases, c)
			i = j
			break
		}
	}
	return cases
}

// parseBlock parses one candidate block. All-or-nothing: a block missing
// the case number, the scenario keyword or the expected-result keyword is
// rejected.
func parseBlock(block string) (models.TestCase, bool) {
	num := caseNumRe.FindStringSubmatch(block)
	if num == nil {
		return models.TestCase{}, false
	}
	rest := block[len(num[0]):]

	scenLoc := scenarioKeyRe.FindStringIndex(rest)
	if scenLoc == nil {
		return models.TestCase{}, false
	}
	title := trimTitle(rest[:scenLoc[0]])
	if title == "" {
		return models.TestCase{}, false
	}
	rest = rest[scenLoc[1]:]

	expLoc := expectedKeyRe.FindStringIndex(rest)
	if expLoc == nil {
		return models.TestCase{}, false
	}
	scenario := strings.TrimSpace(rest[:expLoc[0]])
	rest = rest[expLoc[1]:]

	expected := rest
	status := models.StatusNoRun
	if statLoc := statusKeyRe.FindStringIndex(rest); statLoc != nil {
		expected = rest[:statLoc[0]]
		if s := parseStatus(rest[statLoc[1]:]); s != "" {
			status = s
		}
	}

	return models.TestCase{
		Name:           fmt.Sprintf("TC%s - %s", num[1], title),
		Scenario:       scenario,
		ExpectedResult: strings.TrimSpace(expected),
		Status:         status,
	}, true
}

// trimTitle strips the separators that pad the title between the case
// number and the scenario keyword ("TC01 - Login Check:" -> "Login Check")
func trimTitle(raw string) string {
	title := strings.TrimLeft(raw, " -")
	title = strings.TrimSpace(title)
	title = strings.TrimRight(title, ":|-")
	return strings.TrimSpace(title)
}

// parseStatus reads the status text up to the end of its line. A
// colon-delimited sub-label keeps only the part before the first colon.
// The result is upper-cased.
func parseStatus(rest string) string {
	line := rest
	if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
		line = rest[:nl]
	}
	line = strings.TrimSpace(line)
	if idx := strings.Index(line, ":"); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	return strings.ToUpper(line)
}

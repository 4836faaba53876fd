// Package ruleimport parses plain-text rule lists and ingests them into the
// knowledge base.
package ruleimport

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// minTextLen is the shortest rule text worth importing, in runes.
const minTextLen = 10

var codePrefix = regexp.MustCompile(`^\[([A-Za-z]+[0-9]+)\]\s*`)

// Rule is one parsed list item.
type Rule struct {
	Code        string
	Text        string
	Category    string
	Priority    int
	Source      string
	Description string
	Line        int
}

// Parse reads "# Section" headings and "- [CODE] text" items from r. name
// identifies the file in each rule's description.
func Parse(r io.Reader, name string, p Profile) ([]Rule, error) {
	var (
		out      []Rule
		category = "general"
		heading  string
		lineNo   int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || line == "---" || strings.HasPrefix(line, "alwaysApply:") {
			continue
		}
		if strings.HasPrefix(line, "# ") {
			h := strings.ToLower(strings.TrimSpace(line[2:]))
			if c, ok := p.section(h); ok {
				category, heading = c, h
			}
			continue
		}
		if !strings.HasPrefix(line, "- ") {
			continue
		}
		text := strings.TrimSpace(line[2:])
		var code string
		if m := codePrefix.FindStringSubmatch(text); m != nil {
			code = m[1]
			text = strings.TrimSpace(text[len(m[0]):])
		}
		if code == "" && p.RequireCode {
			continue
		}
		if utf8.RuneCountInString(text) < minTextLen {
			continue
		}
		lowered := strings.ToLower(text)
		out = append(out, Rule{
			Code:        code,
			Text:        text,
			Category:    p.category(category, lowered),
			Priority:    p.priority(lowered),
			Source:      p.source(heading),
			Description: fmt.Sprintf("Rule %d from %s", lineNo, name),
			Line:        lineNo,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return out, nil
}

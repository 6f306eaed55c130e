// Package parser extracts frontmatter metadata, title and tags from
// convention Markdown files.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

// Value is an optional frontmatter field. A present field with a blank
// value asks for the server-side value to be cleared.
type Value struct {
	Present bool
	Text    string
}

// Blank reports whether the field is present but empty.
func (v Value) Blank() bool {
	return v.Present && strings.TrimSpace(v.Text) == ""
}

// Meta is the convention metadata recognised in frontmatter.
type Meta struct {
	Title            Value
	Category         Value
	Trigger          Value
	Description      Value
	AgentInstruction Value
}

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Meta        Meta
	Body        string
	Tags        []string
	Title       string
}

// Parse extracts frontmatter, metadata, body, and tags from raw Markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	return &Result{
		Frontmatter: fm,
		Meta:        extractMeta(fm),
		Body:        body,
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: the whole file is body.
		return nil, string(data), nil
	}
	if fm == nil {
		fm = map[string]interface{}{}
	}

	return fm, body, nil
}

func extractMeta(fm map[string]interface{}) Meta {
	return Meta{
		Title:            lookup(fm, "title"),
		Category:         lookup(fm, "category"),
		Trigger:          lookup(fm, "trigger"),
		Description:      lookup(fm, "description"),
		AgentInstruction: lookup(fm, "agentInstruction", "agent_instruction"),
	}
}

// lookup returns the first key present. YAML null counts as present and blank.
func lookup(fm map[string]interface{}, keys ...string) Value {
	for _, k := range keys {
		raw, ok := fm[k]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case nil:
			return Value{Present: true}
		case string:
			return Value{Present: true, Text: strings.TrimSpace(v)}
		default:
			return Value{Present: true, Text: strings.TrimSpace(fmt.Sprint(v))}
		}
	}
	return Value{}
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	switch v := fm["tags"].(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			add(s)
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if t := lookup(fm, "title"); t.Text != "" {
		return t.Text
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

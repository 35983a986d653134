// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package templates

import (
	"fmt"
	"regexp"
	"strings"
)

// header is the `---`-fenced metadata block at the top of a template
// source document, parsed with yaml.v3.
type header struct {
	Name        string   `yaml:"name"`
	Domain      string   `yaml:"domain"`
	Complexity  string   `yaml:"complexity"`
	Methodology string   `yaml:"methodology"`
	Keywords    []string `yaml:"keywords"`
	Description string   `yaml:"description"`
}

const fence = "---"

// splitDocument separates a fenced metadata header from the body. A
// document with no leading fence has no metadata and is rejected: every
// template requires at least a name.
func splitDocument(raw string) (rawHeader, body string, err error) {
	trimmed := strings.TrimLeft(raw, "\n\r\t ")
	if !strings.HasPrefix(trimmed, fence) {
		return "", "", fmt.Errorf("missing metadata header")
	}
	rest := trimmed[len(fence):]
	idx := strings.Index(rest, fence)
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated metadata header")
	}
	return rest[:idx], strings.TrimLeft(rest[idx+len(fence):], "\n\r"), nil
}

var nonSlugRunes = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives a stable template id from a name: lowercase, non-alphanumeric
// runs collapsed to a single hyphen, leading/trailing hyphens trimmed.
func slugify(name string) string {
	lower := strings.ToLower(name)
	slug := nonSlugRunes.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

// compositeString builds the single string C2 embeds for a template: name,
// description, keywords, domain, methodology, and a truncated body prefix.
func compositeString(h header, body string) string {
	const bodyPrefixLen = 500
	prefix := body
	if len(prefix) > bodyPrefixLen {
		prefix = prefix[:bodyPrefixLen]
	}

	var b strings.Builder
	b.WriteString(h.Name)
	b.WriteString("\n")
	b.WriteString(h.Description)
	b.WriteString("\n")
	b.WriteString(strings.Join(h.Keywords, ", "))
	b.WriteString("\n")
	b.WriteString(h.Domain)
	b.WriteString("\n")
	b.WriteString(h.Methodology)
	b.WriteString("\n")
	b.WriteString(prefix)
	return b.String()
}

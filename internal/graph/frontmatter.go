package graph

import "strings"

// SplitFrontmatter separates a node's optional metadata block from its
// markdown body. The block sits at the very start of the content between
// two --- lines, one "key: value" pair per line, followed by a blank line.
// Content without a block returns a nil map and the content unchanged.
func SplitFrontmatter(content string) (map[string]string, string) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, content
	}
	rest := content[len("---\n"):]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, content
	}
	block := rest[:idx]
	body := rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")

	meta := map[string]string{}
	for _, line := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		meta[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return meta, body
}

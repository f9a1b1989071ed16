package graph

import (
	"regexp"
	"strings"

	apperrors "loom/pkg/errors"
)

var wikilinkRE = regexp.MustCompile(`\[\[([^\]]+)\]\]`)

// ExtractLinks returns the [[wikilink]] targets in content, deduplicated
// and in first-occurrence order. Markers are case-sensitive and taken
// verbatim.
func ExtractLinks(content string) []string {
	seen := map[string]struct{}{}
	result := []string{}
	for _, match := range wikilinkRE.FindAllStringSubmatch(content, -1) {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		result = append(result, name)
	}
	return result
}

// Links returns (outlinks, backlinks) for a node. Outlinks come from the
// node's own body; backlinks scan every other node's body for a [[name]]
// marker. A missing node yields empty outlinks, never an error, so links
// of dangling targets still resolve.
func (s *Store) Links(name string) ([]string, []string, error) {
	outlinks := []string{}
	content, err := s.Read(name)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, nil, err
	}
	if err == nil {
		outlinks = ExtractLinks(content)
	}

	names, err := s.List()
	if err != nil {
		return nil, nil, err
	}
	marker := "[[" + name + "]]"
	backlinks := []string{}
	for _, other := range names {
		if other == name {
			continue
		}
		body, err := s.Read(other)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return nil, nil, err
		}
		if strings.Contains(body, marker) {
			backlinks = append(backlinks, other)
		}
	}
	return outlinks, backlinks, nil
}

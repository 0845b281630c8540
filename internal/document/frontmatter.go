package document

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// SplitFrontmatter separates the YAML block from the body. ok is false when
// the document has no frontmatter. The body keeps its original line endings;
// yamlText is LF-only.
func SplitFrontmatter(content string) (yamlText, body string, ok bool) {
	yamlText, body, _, ok = splitFrontmatter(content)
	return yamlText, body, ok
}

// splitFrontmatter also reports the line ending used by the opening fence.
func splitFrontmatter(content string) (yamlText, body, nl string, ok bool) {
	nl = "\n"
	if strings.HasPrefix(content, fence+"\r\n") {
		nl = "\r\n"
	}
	if !strings.HasPrefix(content, fence+nl) {
		return "", content, nl, false
	}
	rest := content[len(fence)+len(nl):]
	if strings.HasPrefix(rest, fence+nl) || rest == fence {
		return "", strings.TrimPrefix(strings.TrimPrefix(rest, fence), nl), nl, true
	}
	closing := nl + fence + nl
	end := strings.Index(rest, closing)
	if end < 0 {
		if strings.HasSuffix(rest, nl+fence) {
			return lf(rest[:len(rest)-len(nl)-len(fence)]), "", nl, true
		}
		return "", content, nl, false
	}
	return lf(rest[:end]), rest[end+len(closing):], nl, true
}

// Body returns the text after the frontmatter with LF line endings, the form
// the markdown readers work on.
func Body(content string) string {
	_, body, _ := SplitFrontmatter(content)
	return lf(body)
}

func lf(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// ParseFrontmatter decodes the frontmatter into a map and returns the body.
func ParseFrontmatter(content string) (map[string]interface{}, string, error) {
	yamlText, body, ok := SplitFrontmatter(content)
	fm := map[string]interface{}{}
	if !ok || strings.TrimSpace(yamlText) == "" {
		return fm, body, nil
	}
	if err := yaml.Unmarshal([]byte(yamlText), &fm); err != nil {
		return nil, body, fmt.Errorf("parse frontmatter: %w", err)
	}
	if fm == nil {
		fm = map[string]interface{}{}
	}
	return Normalize(fm).(map[string]interface{}), body, nil
}

// SetFrontmatterValue returns content with keyPath set to value. The edit goes
// through a yaml.Node tree so sibling keys, their order and comments survive.
func SetFrontmatterValue(content string, keyPath []string, value interface{}) (string, error) {
	yamlText, body, nl, ok := splitFrontmatter(content)
	if !ok {
		body = content
		if strings.Contains(content, "\r\n") {
			nl = "\r\n"
		}
	}

	var doc yaml.Node
	if strings.TrimSpace(yamlText) != "" {
		if err := yaml.Unmarshal([]byte(yamlText), &doc); err != nil {
			return "", fmt.Errorf("parse frontmatter: %w", err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return "", fmt.Errorf("frontmatter is not a mapping")
	}

	var valueNode yaml.Node
	if err := valueNode.Encode(value); err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}

	node := root
	for i, key := range keyPath {
		last := i == len(keyPath)-1
		child := lookup(node, key)
		if last {
			if child != nil {
				*child = valueNode
			} else {
				node.Content = append(node.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
					&valueNode)
			}
			break
		}
		if child == nil || child.Kind != yaml.MappingNode {
			fresh := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			if child != nil {
				*child = *fresh
			} else {
				node.Content = append(node.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
					fresh)
				child = fresh
			}
		}
		node = child
	}

	var out bytes.Buffer
	enc := yaml.NewEncoder(&out)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	_ = enc.Close()

	var b strings.Builder
	b.WriteString(fence + nl)
	b.WriteString(strings.ReplaceAll(out.String(), "\n", nl))
	b.WriteString(fence + nl)
	b.WriteString(body)
	return b.String(), nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// Normalize converts decoded YAML into JSON-shaped Go values: string keys,
// int64 integers, float64 floats.
func Normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

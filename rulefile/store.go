// Package rulefile serves rules from a directory of YAML or JSON rule
// documents and reloads them when the directory changes.
package rulefile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/retrofor/Siamese/rules"
)

// Extensions lists the file extensions read as rule files
var Extensions = []string{".yaml", ".yml", ".json"}

// DirStore is a read-only rules.RuleStore over a directory. Every List call
// re-reads the directory, so Engine.Reload picks up edits.
//
// Files are read in lexical order. A file holds one rule document, a list
// of documents, or a mapping with a `rules:` list. JSON files are parsed by
// the same YAML decoder.
type DirStore struct {
	dir string
}

// NewDirStore creates a store reading from dir
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Dir returns the directory being served
func (s *DirStore) Dir() string {
	return s.dir
}

// List parses every rule file and returns the rules in file order
func (s *DirStore) List() ([]*rules.Rule, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !IsRuleFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var all []*rules.Rule
	seen := make(map[string]string)
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		fileRules, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, r := range fileRules {
			if other, dup := seen[r.ID()]; dup {
				return nil, fmt.Errorf("%w: %s defined in %s and %s", rules.ErrRuleExists, r.ID(), other, name)
			}
			seen[r.ID()] = name
			all = append(all, r)
		}
	}

	return all, nil
}

// Get returns the rule with id
func (s *DirStore) Get(id string) (*rules.Rule, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.ID() == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", rules.ErrRuleNotFound, id)
}

// Add is not supported; edit the files instead
func (s *DirStore) Add(*rules.Rule) error { return rules.ErrReadOnlyStore }

// Update is not supported; edit the files instead
func (s *DirStore) Update(*rules.Rule) error { return rules.ErrReadOnlyStore }

// Delete is not supported; edit the files instead
func (s *DirStore) Delete(string) error { return rules.ErrReadOnlyStore }

// IsRuleFile reports whether name has a rule file extension
func IsRuleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, valid := range Extensions {
		if ext == valid {
			return true
		}
	}
	return false
}

// LoadFile parses the rule documents in path
func LoadFile(path string) ([]*rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	docs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	out := make([]*rules.Rule, 0, len(docs))
	for _, doc := range docs {
		r, err := doc.Build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Parse decodes rule documents from YAML or JSON data
func Parse(data []byte) ([]rules.RuleDocument, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("invalid rule file: %w", err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		// empty file
		return nil, nil
	}

	node := root.Content[0]
	var docs []rules.RuleDocument

	switch {
	case node.Kind == yaml.SequenceNode:
		if err := node.Decode(&docs); err != nil {
			return nil, fmt.Errorf("invalid rule list: %w", err)
		}
	case node.Kind == yaml.MappingNode && hasKey(node, "rules"):
		var file struct {
			Rules []rules.RuleDocument `yaml:"rules"`
		}
		if err := node.Decode(&file); err != nil {
			return nil, fmt.Errorf("invalid rule list: %w", err)
		}
		docs = file.Rules
	case node.Kind == yaml.MappingNode:
		var doc rules.RuleDocument
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("invalid rule document: %w", err)
		}
		docs = append(docs, doc)
	default:
		return nil, fmt.Errorf("line %d: expected a rule document or a list of them", node.Line)
	}

	return docs, nil
}

func hasKey(mapping *yaml.Node, key string) bool {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return true
		}
	}
	return false
}

package pathmap

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/confsync/configtree"
	"github.com/c360/confsync/errors"
)

// Rule is an externally declared mount binding: the tree-path Prefix lives
// in File (the whole subtree in one file) or under Dir (each child section
// in its own file beneath that directory). Exactly one of File and Dir is
// set. Paths are relative to the file store root, slash-separated.
type Rule struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	File   string `yaml:"file,omitempty" json:"file,omitempty"`
	Dir    string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// Validate checks that the rule is well formed.
func (r Rule) Validate() error {
	if r.Prefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidRule, "Rule", "Validate",
			"rule prefix cannot be empty")
	}
	if _, err := configtree.SplitPath(r.Prefix); err != nil {
		return errors.WrapInvalid(errors.ErrInvalidRule, "Rule", "Validate",
			fmt.Sprintf("rule prefix %q is not a valid tree path", r.Prefix))
	}
	if (r.File == "") == (r.Dir == "") {
		return errors.WrapInvalid(errors.ErrInvalidRule, "Rule", "Validate",
			fmt.Sprintf("rule for prefix %q must set exactly one of file or dir", r.Prefix))
	}
	target := r.File
	if target == "" {
		target = r.Dir
	}
	if filepath.IsAbs(target) || strings.Contains(target, "..") {
		return errors.WrapInvalid(errors.ErrInvalidRule, "Rule", "Validate",
			fmt.Sprintf("rule path %q must be relative and stay inside the root", target))
	}
	if r.File != "" && !strings.HasSuffix(r.File, ".json") {
		return errors.WrapInvalid(errors.ErrInvalidRule, "Rule", "Validate",
			fmt.Sprintf("rule file %q must be a .json path", r.File))
	}
	return nil
}

// target returns the rule's claim for conflict messages.
func (r Rule) target() string {
	if r.File != "" {
		return r.File
	}
	return r.Dir + "/"
}

// rulesDocument is the on-disk YAML shape for mount rules:
//
//	rules:
//	  - prefix: system
//	    file: system.json
//	  - prefix: content.types
//	    dir: content/types
type rulesDocument struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules parses a YAML mount-rule document and validates every rule.
func LoadRules(data []byte) ([]Rule, error) {
	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%v: %w", err, errors.ErrParsingFailed),
			"pathmap", "LoadRules", "parse rules document")
	}
	for i := range doc.Rules {
		doc.Rules[i].File = cleanRel(doc.Rules[i].File)
		doc.Rules[i].Dir = cleanRel(doc.Rules[i].Dir)
		if err := doc.Rules[i].Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Rules, nil
}

// LoadRulesFile reads and parses a YAML mount-rule file.
func LoadRulesFile(file string) ([]Rule, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.WrapTransient(err, "pathmap", "LoadRulesFile",
			fmt.Sprintf("read rules file %s", file))
	}
	rules, err := LoadRules(data)
	if err != nil {
		return nil, errors.Wrap(err, "pathmap", "LoadRulesFile",
			fmt.Sprintf("load rules from %s", file))
	}
	return rules, nil
}

// cleanRel normalizes a relative path to slash-separated clean form.
func cleanRel(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean(filepath.ToSlash(p))
}

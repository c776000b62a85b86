package seedgen

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/MedSynth/internal/models"
)

// categoryFile is the YAML layout of a category override file:
//
//	categories:
//	  - 호흡기내과
//	  - 소화기내과
type categoryFile struct {
	Categories []string `yaml:"categories"`
}

// LoadCategories reads a category override file. Blank and repeated names
// are dropped; an empty result is an error.
func LoadCategories(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read categories file: %w", err)
	}
	var doc categoryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse categories file %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(doc.Categories))
	var out []string
	for _, c := range doc.Categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", path, models.ErrEmptyCategories)
	}
	return out, nil
}

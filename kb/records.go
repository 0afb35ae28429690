package kb

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"klaus/types"
)

type record struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

// ParseRecords decodes a flat list of {id?, text} records. YAML is a
// superset of JSON, so both site_facts.json and a YAML list are accepted.
// Records without text are skipped; records without an id get
// "record-{index}".
func ParseRecords(data []byte) ([]types.Fact, error) {
	var records []record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode fact records: %w", err)
	}

	facts := make([]types.Fact, 0, len(records))
	for i, r := range records {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		id := strings.TrimSpace(r.ID)
		if id == "" {
			id = fmt.Sprintf("record-%d", i)
		}
		facts = append(facts, types.Fact{ID: id, Text: text})
	}
	return facts, nil
}

package flow

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// LoadFile parses flow Specs from a YAML file. Flows omitting a strategy or
// flag column inherit |strategy| and |flagCol|. Each parsed Spec is validated.
func LoadFile(path string, strategy Strategy, flagCol int) ([]Spec, error) {
	var doc struct {
		Flows []Spec `yaml:"flows"`
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading flows file %s", path)
	}
	if err = yaml.UnmarshalStrict(b, &doc); err != nil {
		return nil, errors.WithMessagef(err, "parsing flows file %s", path)
	} else if len(doc.Flows) == 0 {
		return nil, errors.Errorf("flows file %s defines no flows", path)
	}

	for i := range doc.Flows {
		if doc.Flows[i].Strategy == "" {
			doc.Flows[i].Strategy = strategy
		}
		if doc.Flows[i].FlagColumn == 0 {
			doc.Flows[i].FlagColumn = flagCol
		}
		if err = doc.Flows[i].Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Flows, nil
}

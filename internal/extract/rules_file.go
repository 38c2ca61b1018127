package extract

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// RulesFile is the on-disk form of rule extensions:
//
//	medications: [Ibuprofen, Prednisone]
//	labels:
//	  dosage: [directions]
//	  patient_name: [pt]
//
// Extra labels are tried after the built-in labels of the same field and
// before the structural patterns. Extra medications are appended to the
// fallback list unless replace_medications is set.
type RulesFile struct {
	Medications        []string            `yaml:"medications"`
	ReplaceMedications bool                `yaml:"replace_medications"`
	Labels             map[string][]string `yaml:"labels"`
}

// ParseRules merges a YAML rules document into the default rule tables.
func ParseRules(data []byte) (*RuleSet, error) {
	var rf RulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, eris.Wrap(err, "failed to parse rules")
	}
	spec, err := rf.Merge(DefaultSpec())
	if err != nil {
		return nil, err
	}
	return Compile(spec), nil
}

// LoadRules reads a rules file from path. An empty path returns DefaultRules.
func LoadRules(path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read rules file %s", path)
	}
	rs, err := ParseRules(data)
	if err != nil {
		return nil, eris.Wrapf(err, "rules file %s", path)
	}
	return rs, nil
}

// Merge applies rf on top of base.
func (rf RulesFile) Merge(base RuleSpec) (RuleSpec, error) {
	for name, labels := range rf.Labels {
		f, ok := ParseField(name)
		if !ok {
			return RuleSpec{}, eris.Errorf("unknown field %q in labels", name)
		}
		base.Labels[f] = append(base.Labels[f], labels...)
	}
	if rf.ReplaceMedications {
		base.Medications = nil
	}
	base.Medications = append(base.Medications, rf.Medications...)
	return base, nil
}

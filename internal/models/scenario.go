package models

import (
	"encoding/json"
	"fmt"
)

type scenarioField uint8

const (
	scenarioCategory scenarioField = 1 << iota
	scenarioComplaint
	scenarioRisk
	scenarioDiagnosis
)

var scenarioKeys = []struct {
	field scenarioField
	key   string
}{
	{scenarioCategory, "category"},
	{scenarioComplaint, "complaint"},
	{scenarioRisk, "risk"},
	{scenarioDiagnosis, "diagnosis_guess"},
}

// UnmarshalJSON reads string values into the typed fields and keeps
// everything else in Extra.
func (s *Scenario) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %v", ErrScenarioNotObject, err)
	}
	if fields == nil {
		return ErrScenarioNotObject
	}
	*s = Scenario{}
	for _, k := range scenarioKeys {
		if _, ok := fields[k.key]; !ok {
			s.absent |= k.field
		}
	}
	for key, raw := range fields {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		str, isString := v.(string)
		switch {
		case key == "category" && isString:
			s.Category = str
		case key == "complaint" && isString:
			s.Complaint = str
		case key == "risk" && isString:
			s.Risk = RiskLevel(str)
		case key == "diagnosis_guess" && isString:
			s.DiagnosisGuess = str
		default:
			if s.Extra == nil {
				s.Extra = make(map[string]any)
			}
			s.Extra[key] = v
		}
	}
	return nil
}

// MarshalJSON writes the four fields in declaration order. A scenario read
// with extra or missing keys is written back as that same object.
func (s Scenario) MarshalJSON() ([]byte, error) {
	if s.absent == 0 && len(s.Extra) == 0 {
		type plain Scenario
		return json.Marshal(plain(s))
	}
	out := make(map[string]any, len(s.Extra)+len(scenarioKeys))
	for k, v := range s.Extra {
		out[k] = v
	}
	values := map[string]string{
		"category":        s.Category,
		"complaint":       s.Complaint,
		"risk":            string(s.Risk),
		"diagnosis_guess": s.DiagnosisGuess,
	}
	for _, k := range scenarioKeys {
		if s.absent&k.field != 0 {
			continue
		}
		if _, kept := out[k.key]; !kept {
			out[k.key] = values[k.key]
		}
	}
	return json.Marshal(out)
}

package models

import (
	"encoding/json"
	"fmt"
)

// PatientProfile is the synthesized patient background. Only the profile and
// symptoms objects are required; their contents and any other top-level keys
// are kept as the model produced them.
type PatientProfile struct {
	Profile  map[string]any
	Symptoms map[string]any
	Extra    map[string]any
}

// DecodePatientProfile decodes raw model output into a profile and checks the
// required top-level objects.
func DecodePatientProfile(raw json.RawMessage) (PatientProfile, error) {
	var p PatientProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return PatientProfile{}, err
	}
	if p.Profile == nil {
		return PatientProfile{}, ErrProfileMissing
	}
	if p.Symptoms == nil {
		return PatientProfile{}, ErrSymptomsMissing
	}
	return p, nil
}

// UnmarshalJSON splits the object into the required sections and the remainder.
func (p *PatientProfile) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("patient profile is not an object: %w", err)
	}
	*p = PatientProfile{}
	for key, raw := range fields {
		switch key {
		case "profile":
			if err := json.Unmarshal(raw, &p.Profile); err != nil {
				return fmt.Errorf("%w: %v", ErrProfileMissing, err)
			}
		case "symptoms":
			if err := json.Unmarshal(raw, &p.Symptoms); err != nil {
				return fmt.Errorf("%w: %v", ErrSymptomsMissing, err)
			}
		default:
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[key] = v
		}
	}
	return nil
}

// MarshalJSON merges the sections back into one object.
func (p PatientProfile) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+2)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["profile"] = p.Profile
	out["symptoms"] = p.Symptoms
	return json.Marshal(out)
}

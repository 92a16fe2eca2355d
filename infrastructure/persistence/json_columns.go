package persistence

import (
	"encoding/json"

	"crosspost/domain/model"
)

// Collection-valued fields ride in TEXT columns as JSON, which keeps the
// native-sql repositories driver-agnostic.

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(src string) ([]string, error) {
	if src == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(src), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalTargets(ts []model.PlatformTarget) (string, error) {
	if ts == nil {
		ts = []model.PlatformTarget{}
	}
	b, err := json.Marshal(ts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalTargets(src string) ([]model.PlatformTarget, error) {
	if src == "" {
		return nil, nil
	}
	var out []model.PlatformTarget
	if err := json.Unmarshal([]byte(src), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalCadence(c model.Cadence) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalCadence(src string) (model.Cadence, error) {
	var out model.Cadence
	if src == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(src), &out)
	return out, err
}

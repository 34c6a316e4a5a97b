package taskqueue

import (
	"encoding/json"

	"github.com/petrijr/docflow/pkg/api"
)

// encodeData serializes job data as JSON so SQLite can index into it with
// json_extract.
func encodeData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeData(s string) (map[string]any, error) {
	out := map[string]any{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeOptions(o api.JobOptions) (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeOptions(s string) (api.JobOptions, error) {
	var o api.JobOptions
	if s == "" {
		return o, nil
	}
	err := json.Unmarshal([]byte(s), &o)
	return o, err
}

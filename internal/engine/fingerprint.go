package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/petrijr/docflow/pkg/api"
)

// Fingerprint hashes a node's step type, config and input items. Two
// invocations with the same fingerprint are expected to produce the same
// output, so the cache can serve the second one.
//
// encoding/json writes map keys sorted, which keeps the hash stable.
func Fingerprint(node api.NodeDefinition, items []api.Item) (string, error) {
	if items == nil {
		items = []api.Item{}
	}
	payload := struct {
		StepType string         `json:"stepType"`
		Config   map[string]any `json:"config,omitempty"`
		Items    []api.Item     `json:"items"`
	}{node.StepType, node.Config, items}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

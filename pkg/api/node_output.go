package api

import "time"

// NodeOutputKey identifies a cached node output.
type NodeOutputKey struct {
	ExecutionID string `json:"executionId"`
	NodeID      string `json:"nodeId"`
	// Fingerprint distinguishes re-invocations with different inputs. It may
	// be empty when fingerprinting is disabled.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// NodeOutput is a memoized step result.
type NodeOutput struct {
	NodeOutputKey
	Items      []Item         `json:"items"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	ComputedAt time.Time      `json:"computedAt"`
}

package processor

import (
	"encoding/json"
	"fmt"

	"github.com/codex-core/codex-core/internal/config"
	"github.com/codex-core/codex-core/internal/policy"
)

// applyConfigValue sets a single top-level Config field by its TOML key
// name, for configValueWrite/configBatchWrite. Unknown keys are rejected
// before anything is written.
func applyConfigValue(store *config.Store, key string, raw json.RawMessage) error {
	switch key {
	case "approval_mode", "sandbox_policy", "experimental_api_enabled", "compaction_threshold", "model":
	default:
		return fmt.Errorf("unknown config key %q", key)
	}

	return store.WriteValue(func(c *config.Config) {
		switch key {
		case "approval_mode":
			var v policy.ApprovalMode
			if err := json.Unmarshal(raw, &v); err == nil {
				c.Approval = v
			}
		case "sandbox_policy":
			var v policy.SandboxPolicy
			if err := json.Unmarshal(raw, &v); err == nil {
				c.Sandbox = v
			}
		case "experimental_api_enabled":
			var v bool
			if err := json.Unmarshal(raw, &v); err == nil {
				c.ExperimentalAPIEnabled = v
			}
		case "compaction_threshold":
			var v int
			if err := json.Unmarshal(raw, &v); err == nil {
				c.CompactionThreshold = v
			}
		case "model":
			var v string
			if err := json.Unmarshal(raw, &v); err == nil {
				c.Model = v
			}
		}
	})
}

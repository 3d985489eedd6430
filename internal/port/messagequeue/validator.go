package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectCommandTaskStart:
		var p TaskStartPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.TaskID == "" {
			return fmt.Errorf("%s requires task_id", subject)
		}
	case SubjectCommandTaskStop:
		var p TaskStopPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.TaskID == "" {
			return fmt.Errorf("%s requires task_id", subject)
		}
		if p.Mode != "" && p.Mode != "pause" && p.Mode != "cancel" {
			return fmt.Errorf("%s: unknown mode %q", subject, p.Mode)
		}
	case SubjectCommandRemediation:
		var p RemediationPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.TaskID == "" {
			return fmt.Errorf("%s requires task_id", subject)
		}
		if p.Action != "act" && p.Action != "skip" {
			return fmt.Errorf("%s: unknown action %q", subject, p.Action)
		}
	default:
		if strings.HasPrefix(subject, SubjectAgentExit+".") {
			var p AgentExitPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("schema validation failed for %s: %w", subject, err)
			}
		}
	}
	return nil
}

package utils

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// ParseStringToUUID returns uuid.Nil for empty or malformed input.
func ParseStringToUUID(s string) uuid.UUID {
	uid, err := uuid.Parse(s)
	if err != nil || s == "" {
		return uuid.Nil
	}
	return uid
}

// UnmarshalTask decodes a task payload. A malformed payload will never decode
// on retry, so the error wraps asynq.SkipRetry.
func UnmarshalTask(t *asynq.Task, dest interface{}) error {
	if err := json.Unmarshal(t.Payload(), dest); err != nil {
		return fmt.Errorf("invalid %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// NewTask marshals payload into an asynq task.
func NewTask(taskType string, payload interface{}, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data, opts...), nil
}

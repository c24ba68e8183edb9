package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskRunExecute = "workflow.run.execute"

const TaskCronTick = "workflow.cron.tick"

type RunPayload struct {
	RunID string `json:"runId"`
}

type CronTickPayload struct {
	FunctionID string `json:"functionId"`
}

func NewRunTask(runID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(RunPayload{RunID: runID.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRunExecute, data), nil
}

func ParseRunPayload(task *asynq.Task) (uuid.UUID, error) {
	var payload RunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(payload.RunID)
}

func NewCronTickTask(functionID string) (*asynq.Task, error) {
	data, err := json.Marshal(CronTickPayload{FunctionID: functionID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCronTick, data), nil
}

func ParseCronTickPayload(task *asynq.Task) (CronTickPayload, error) {
	var payload CronTickPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CronTickPayload{}, err
	}
	if payload.FunctionID == "" {
		return CronTickPayload{}, fmt.Errorf("cron tick without function id")
	}
	return payload, nil
}

// runTaskID deduplicates deliveries of the same run at the same wake time.
func runTaskID(runID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("run:%s:%d", runID, at.UTC().Unix())
}

package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"

	"github.com/cynic-kernel/kernel/internal/bus"
)

// CloudTasksDispatcher queues ACT_REQUESTED dispatch through Google Cloud
// Tasks for at-least-once delivery when the Runner executing the action
// lives behind an HTTP endpoint rather than in-process. Enqueues
// synchronously (bounded by a 5s timeout) and falls back to a local
// Runner if the enqueue itself fails.
type CloudTasksDispatcher struct {
	client     *cloudtasks.Client
	queuePath  string
	targetURL  string
	logger     *log.Logger
	fallback   Runner
}

// NewCloudTasksDispatcher builds the queue path from projectID, locationID,
// queueID and dials Cloud Tasks. targetURL is the HTTP endpoint the
// enqueued task will POST an action prompt to. fallback, if non-nil, runs
// the action in-process when enqueueing fails.
func NewCloudTasksDispatcher(projectID, locationID, queueID, targetURL string, fallback Runner) (*CloudTasksDispatcher, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("collab: cloudtasks.NewClient: %w", err)
	}

	queuePath := fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID)
	d := &CloudTasksDispatcher{
		client:    client,
		queuePath: queuePath,
		targetURL: targetURL,
		logger:    log.New(log.Writer(), "[collab/cloudtasks] ", log.LstdFlags),
		fallback:  fallback,
	}
	d.logger.Printf("connected to Cloud Tasks queue: %s", queuePath)
	return d, nil
}

type actRequestedBody struct {
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
	Prompt     string `json:"prompt"`
}

// Dispatch enqueues one ACT_REQUESTED delivery. On enqueue failure it
// falls back to running the prompt in-process via d.fallback, when set.
func (d *CloudTasksDispatcher) Dispatch(ctx context.Context, payload bus.ActRequestedPayload, prompt string) error {
	body, err := json.Marshal(actRequestedBody{
		ActionID:   payload.ActionID,
		ActionType: payload.ActionType,
		Prompt:     prompt,
	})
	if err != nil {
		return fmt.Errorf("collab: marshal act-requested body: %w", err)
	}

	req := &taskspb.CreateTaskRequest{
		Parent: d.queuePath,
		Task: &taskspb.Task{
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        d.targetURL,
					Headers:    map[string]string{"Content-Type": "application/json"},
					Body:       body,
				},
			},
		},
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	task, err := d.client.CreateTask(cctx, req)
	if err != nil {
		d.logger.Printf("enqueue failed for action %s: %v", payload.ActionID, err)
		if d.fallback != nil {
			d.logger.Printf("falling back to in-process execution for action %s", payload.ActionID)
			_, runErr := d.fallback.Execute(ctx, prompt, 30*time.Second)
			return runErr
		}
		return fmt.Errorf("collab: enqueue act-requested task: %w", err)
	}

	d.logger.Printf("enqueued action %s as task %s", payload.ActionID, task.GetName())
	return nil
}

// Execute satisfies the Runner interface by enqueueing prompt as a
// fire-and-forget Cloud Tasks delivery rather than running it inline:
// a successful RunResult here means "enqueued", not "completed", since
// the actual execution happens out-of-process at targetURL.
func (d *CloudTasksDispatcher) Execute(ctx context.Context, prompt string, timeout time.Duration) (RunResult, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := d.Dispatch(cctx, bus.ActRequestedPayload{}, prompt)
	if err != nil {
		return RunResult{Success: false, Error: err.Error()}, err
	}
	return RunResult{Success: true, Output: "enqueued"}, nil
}

func (d *CloudTasksDispatcher) Close() error {
	return d.client.Close()
}

package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/slotwatch/service/metrics"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		metrics:   m,
		logger:    logger,
	}, nil
}

func (c *Client) workflowAction(input PollWindowInput) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        "poll-window-" + input.CursorKey,
		Workflow:  PollWindowWorkflow,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{input},
	}
}

// UpsertPollSchedule creates or updates the schedule for input.CursorKey.
// Overlapping runs are skipped so a slow window never races the next one
// on the same cursor.
func (c *Client) UpsertPollSchedule(ctx context.Context, input PollWindowInput, interval time.Duration) error {
	id := scheduleID(input.CursorKey)

	c.logger.Debug("upserting poll schedule",
		"cursor_key", input.CursorKey,
		"schedule_id", id,
		"interval", interval,
	)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)
		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: id,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			},
			Action:  c.workflowAction(input),
			Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
			Memo: map[string]interface{}{
				"cursor_key":  input.CursorKey,
				"window_size": input.WindowSize,
				"created_by":  "slotwatch",
			},
		})
		if err != nil {
			c.logger.Error("failed to create schedule",
				"schedule_id", id,
				"error", err,
			)
			return fmt.Errorf("failed to create schedule %q: %w", id, err)
		}
		c.logger.Info("poll schedule created",
			"cursor_key", input.CursorKey,
			"schedule_id", id,
			"interval", interval,
		)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			in.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			in.Description.Schedule.Action = c.workflowAction(input)
			return &client.ScheduleUpdate{
				Schedule: &in.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("poll schedule updated",
		"cursor_key", input.CursorKey,
		"schedule_id", id,
		"interval", interval,
	)
	return nil
}

// DeletePollSchedule deletes the schedule for a cursor key.
func (c *Client) DeletePollSchedule(ctx context.Context, cursorKey string) error {
	id := scheduleID(cursorKey)

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule",
			"schedule_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("poll schedule deleted",
		"cursor_key", cursorKey,
		"schedule_id", id,
	)
	return nil
}

// ExecutePollWindow runs one PollWindowWorkflow and waits for its result.
func (c *Client) ExecutePollWindow(ctx context.Context, input PollWindowInput) (*PollWindowResult, error) {
	start := time.Now()
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("poll-window-%s-manual-%d", input.CursorKey, start.UnixNano()),
		TaskQueue: c.taskQueue,
	}, PollWindowWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start workflow: %w", err)
	}

	var result PollWindowResult
	err = run.Get(ctx, &result)

	status := "success"
	if err != nil {
		status = "error"
	} else if result.Retried {
		status = "retried"
	}
	if c.metrics != nil {
		c.metrics.RecordWorkflowDuration(status, time.Since(start).Seconds())
	}

	if err != nil {
		return nil, fmt.Errorf("workflow %s failed: %w", run.GetID(), err)
	}
	return &result, nil
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}

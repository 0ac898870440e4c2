package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"taskboard/domain"
	"taskboard/gateway"
)

type taskTable interface {
	NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

type commandQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage reads tasks from an Azure table partitioned by assignee and sends
// status changes as commands on an Azure queue.
type Storage struct {
	taskTable    taskTable
	commandQueue commandQueue
	now          func() time.Time
}

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, statusQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, statusQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: svc.NewClient(tasksTable), commandQueue: cq, now: time.Now}, nil
}

type taskEntity struct {
	aztables.Entity
	Title          string `json:"Title"`
	Description    string `json:"Description"`
	Priority       string `json:"Priority"`
	Status         string `json:"Status"`
	DueDate        string `json:"DueDate"`
	AssigneeName   string `json:"AssigneeName"`
	AssigneeAvatar string `json:"AssigneeAvatar"`
	ProjectID      string `json:"ProjectID"`
	ProjectName    string `json:"ProjectName"`
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Priority:    domain.Priority(ent.Priority),
		Status:      domain.Status(ent.Status),
		Assignee:    domain.UserRef{ID: ent.PartitionKey, Name: ent.AssigneeName, Avatar: ent.AssigneeAvatar},
		Project:     domain.ProjectRef{ID: ent.ProjectID, Name: ent.ProjectName},
	}
	if ent.DueDate != "" {
		due, err := domain.ParseDate(ent.DueDate)
		if err != nil {
			return domain.Task{}, err
		}
		task.DueDate = due
	}
	return task, nil
}

// ListTasksForAssignee returns the tasks in the assignee's partition, or the
// whole table when assigneeID is empty.
func (s *Storage) ListTasksForAssignee(ctx context.Context, assigneeID string) ([]domain.Task, error) {
	var opts *aztables.ListEntitiesOptions
	if assigneeID != "" {
		filter := "PartitionKey eq " + quote(assigneeID)
		opts = &aztables.ListEntitiesOptions{Filter: &filter}
	}
	tasks, err := s.listEntities(ctx, opts)
	if err != nil {
		return nil, classify("list tasks", err)
	}
	return tasks, nil
}

func (s *Storage) listEntities(ctx context.Context, opts *aztables.ListEntitiesOptions) ([]domain.Task, error) {
	pager := s.taskTable.NewListEntitiesPager(opts)
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e)
			if err != nil {
				return nil, &decodeError{err: err}
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// SetTaskStatus looks the task up to find its assignee and enqueues a
// task-status-changed command. The worker applies commands idempotently by
// key.
func (s *Storage) SetTaskStatus(ctx context.Context, taskID string, status domain.Status) error {
	const op = "set task status"
	if !status.Known() {
		return &gateway.ServiceError{Op: op, StatusCode: http.StatusBadRequest, Message: "unknown status " + string(status)}
	}
	filter := "RowKey eq " + quote(taskID)
	top := int32(1)
	matches, err := s.listEntities(ctx, &aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	if err != nil {
		return classify(op, err)
	}
	if len(matches) == 0 {
		return &gateway.ServiceError{Op: op, StatusCode: http.StatusNotFound, Message: "task " + taskID + " not found"}
	}

	key := uuid.NewString()
	env := CommandEnvelope{
		AssigneeID: matches[0].Assignee.ID,
		Command: StatusCommand{
			ID:             key,
			IdempotencyKey: key,
			Type:           StatusChangedType,
			TaskID:         taskID,
			Status:         status,
			Timestamp:      s.now().UnixMilli(),
		},
	}
	data, err := sonic.Marshal(env)
	if err != nil {
		return &gateway.ServiceError{Op: op, Message: err.Error()}
	}
	if _, err := s.commandQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
		return classify(op, err)
	}
	return nil
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode task entity: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// classify maps Azure SDK failures onto the gateway error kinds.
func classify(op string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		msg := respErr.ErrorCode
		if msg == "" {
			msg = http.StatusText(respErr.StatusCode)
		}
		return &gateway.ServiceError{Op: op, StatusCode: respErr.StatusCode, Message: msg}
	}
	var de *decodeError
	if errors.As(err, &de) {
		return &gateway.ServiceError{Op: op, Message: de.Error()}
	}
	return &gateway.NetworkError{Op: op, Err: err}
}

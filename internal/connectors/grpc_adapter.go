package connectors

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// ExecuteMethod — полное имя метода коннектора. Сообщения — google.protobuf.Struct,
// поэтому сгенерированный код не нужен: контракт задается полями ниже.
const ExecuteMethod = "/connector.v1.ConnectorService/Execute"

const statusThrottled = 429

type GRPCAdapter struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewGRPCAdapter создает адаптер поверх готового соединения
func NewGRPCAdapter(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCAdapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GRPCAdapter{conn: conn, timeout: timeout}
}

// Execute отправляет задачу удаленному коннектору и разбирает ответ:
//
//	{status_code, error_message, retry_after_ms, result: {text, tokens_used, cost}}
func (a *GRPCAdapter) Execute(ctx context.Context, task domain.Task, progress func(int)) (domain.TaskResult, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"capability_id": "agent." + task.AgentType,
		"payload": map[string]interface{}{
			"task_id":     task.ID,
			"name":        task.Name,
			"description": task.Description,
			"priority":    task.Priority.String(),
		},
		"metadata": map[string]interface{}{"source": "agent-orchestrator", "agent_id": task.AgentID},
	})
	if err != nil {
		return domain.TaskResult{}, fmt.Errorf("failed to create proto struct: %w", err)
	}

	// Адаптер держит свой предел, даже если выше уже есть таймаут задачи
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if progress != nil {
		progress(0)
	}

	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, ExecuteMethod, req, resp); err != nil {
		return domain.TaskResult{}, fmt.Errorf("connector call failed: %w", err)
	}

	fields := resp.GetFields()
	if code := int(fields["status_code"].GetNumberValue()); code != 0 {
		msg := fields["error_message"].GetStringValue()
		if code == statusThrottled {
			return domain.TaskResult{}, &ThrottleError{
				RetryAfter: time.Duration(fields["retry_after_ms"].GetNumberValue()) * time.Millisecond,
				Cause:      &RemoteError{Code: code, Message: msg},
			}
		}
		return domain.TaskResult{}, &RemoteError{Code: code, Message: msg}
	}

	result := fields["result"].GetStructValue().GetFields()
	if progress != nil {
		progress(100)
	}
	return domain.TaskResult{
		Result:     result["text"].GetStringValue(),
		TokensUsed: int(result["tokens_used"].GetNumberValue()),
		Cost:       result["cost"].GetNumberValue(),
	}, nil
}

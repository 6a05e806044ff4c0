package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

const (
	IntentStatus = "status"
	IntentHelp   = "help"
)

// Ключевые слова проверяются по подстроке, порядок правил важен: первое совпадение побеждает.
var chatRules = []struct {
	category string
	keywords []string
}{
	{domain.CategoryResearch, []string{"research", "analyze", "analyse", "investigate"}},
	{domain.CategoryCode, []string{"code", "program", "debug", "implement"}},
	{domain.CategoryContent, []string{"write", "content", "article", "blog"}},
	{domain.CategoryMonitoring, []string{"monitor", "health", "check"}},
	{domain.CategoryLLMTest, []string{"llm", "test"}},
	{domain.CategoryParallel, []string{"parallel", "batch"}},
}

const chatHelp = `I can queue work for the agents. Try:
  research <topic>   - research and analysis
  code <request>     - coding and debugging
  write <subject>    - content and articles
  monitor <target>   - health checks
  test <prompt>      - LLM evaluation
  parallel <jobs>    - batch execution
  status             - queue and agent summary
Add "urgent" or "important" to raise the priority.`

// GenerateResponse разбирает реплику пользователя: статус, подсказка или новая задача.
// Каждый обмен сохраняется, если подключено хранилище сообщений.
func (o *Orchestrator) GenerateResponse(ctx context.Context, message string) (domain.ChatResponse, error) {
	text := strings.TrimSpace(message)
	if text == "" {
		return domain.ChatResponse{}, fmt.Errorf("%w: empty message", domain.ErrInvalidTask)
	}
	lower := strings.ToLower(text)

	var resp domain.ChatResponse
	switch {
	case strings.Contains(lower, IntentStatus):
		resp = domain.ChatResponse{Intent: IntentStatus, Response: o.statusSummary()}
	case strings.Contains(lower, IntentHelp):
		resp = domain.ChatResponse{Intent: IntentHelp, Response: chatHelp}
	default:
		category := matchCategory(lower)
		task, err := o.AddTask(ctx, domain.TaskRequest{
			Name:        chatTaskName(category, text),
			Description: text,
			AgentType:   category,
			Priority:    matchPriority(lower),
			Source:      domain.SourceChat,
		})
		if err != nil {
			return domain.ChatResponse{}, err
		}
		resp = domain.ChatResponse{
			Intent: category,
			Task:   &task,
			Response: fmt.Sprintf("Queued %s task %s with %s priority (%d waiting).",
				category, task.ID, task.Priority, o.QueueLen()),
		}
	}

	o.saveMessage(ctx, text, resp)
	return resp, nil
}

func matchCategory(lower string) string {
	for _, rule := range chatRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.category
			}
		}
	}
	return domain.CategoryGeneric
}

func matchPriority(lower string) domain.Priority {
	switch {
	case strings.Contains(lower, "urgent"), strings.Contains(lower, "critical"):
		return domain.PriorityCritical
	case strings.Contains(lower, "important"):
		return domain.PriorityHigh
	default:
		return domain.PriorityMedium
	}
}

func chatTaskName(category, text string) string {
	const maxLen = 60
	r := []rune(text)
	if len(r) > maxLen {
		text = string(r[:maxLen]) + "..."
	}
	return category + ": " + text
}

func (o *Orchestrator) statusSummary() string {
	st := o.GetSystemStatus()
	var b strings.Builder
	fmt.Fprintf(&b, "Queue: %d queued, %d active, %d completed, %d failed.\n",
		st.Queue.Queued, st.Queue.Active, st.Queue.Completed, st.Queue.Failed)
	fmt.Fprintf(&b, "Agents: %d busy of %d", st.Usage.BusyAgents, len(st.Agents))
	if st.Usage.Blocked > 0 {
		fmt.Fprintf(&b, " (%d blocked)", st.Usage.Blocked)
	}
	fmt.Fprintf(&b, ".\nUsage: %d tokens, $%.4f.", st.Usage.TotalTokens, st.Usage.TotalCost)
	return b.String()
}

func (o *Orchestrator) saveMessage(ctx context.Context, text string, resp domain.ChatResponse) {
	if o.opts.Messages == nil {
		return
	}
	m := domain.UserMessage{
		ID:        uuid.NewString(),
		Message:   text,
		Response:  resp.Response,
		CreatedAt: time.Now(),
	}
	if resp.Task != nil {
		m.TaskID = resp.Task.ID
	}
	if err := o.opts.Messages.SaveMessage(ctx, m); err != nil {
		o.logger.Warn("failed to save chat message", zap.Error(err))
	}
}

package queue

/*
Очередь задач с приоритетом. Порядок: ранг приоритета по убыванию,
затем время создания по возрастанию (FIFO), затем порядковый номер вставки.
Очередь не потокобезопасна — ее защищает мьютекс оркестратора.
*/

import (
	"slices"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

type item struct {
	task *domain.Task
	seq  uint64
}

type PriorityQueue struct {
	items []item
	seq   uint64
}

func New() *PriorityQueue {
	return &PriorityQueue{}
}

// less — true, если a должен стоять раньше b
func less(a, b item) bool {
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	if !a.task.CreatedAt.Equal(b.task.CreatedAt) {
		return a.task.CreatedAt.Before(b.task.CreatedAt)
	}
	return a.seq < b.seq
}

// Push вставляет задачу на ее место (бинарный поиск, O(n) на сдвиг).
func (q *PriorityQueue) Push(t *domain.Task) {
	q.seq++
	it := item{task: t, seq: q.seq}
	idx, _ := slices.BinarySearchFunc(q.items, it, func(e, target item) int {
		if less(e, target) {
			return -1
		}
		return 1
	})
	q.items = slices.Insert(q.items, idx, it)
}

// Pop снимает голову очереди.
func (q *PriorityQueue) Pop() *domain.Task {
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0].task
	q.items = slices.Delete(q.items, 0, 1)
	return t
}

func (q *PriorityQueue) Remove(id string) *domain.Task {
	for i, it := range q.items {
		if it.task.ID == id {
			q.items = slices.Delete(q.items, i, i+1)
			return it.task
		}
	}
	return nil
}

func (q *PriorityQueue) Get(id string) *domain.Task {
	for _, it := range q.items {
		if it.task.ID == id {
			return it.task
		}
	}
	return nil
}

func (q *PriorityQueue) Len() int {
	return len(q.items)
}

// Snapshot возвращает задачи в порядке диспетчеризации.
// Указатели общие с очередью, копирование — забота вызывающего.
func (q *PriorityQueue) Snapshot() []*domain.Task {
	out := make([]*domain.Task, len(q.items))
	for i, it := range q.items {
		out[i] = it.task
	}
	return out
}

// IsSorted проверяет порядок (используется в тестах и отладке).
func (q *PriorityQueue) IsSorted() bool {
	for i := 1; i < len(q.items); i++ {
		if less(q.items[i], q.items[i-1]) {
			return false
		}
	}
	return true
}

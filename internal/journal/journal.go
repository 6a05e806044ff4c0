package journal

/*
Журнал задач — асинхронная пакетная запись снимков задач в хранилище.

- Non-blocking: Log никогда не ждет БД, оркестратор вызывает его под своим мьютексом.
- Batching: снимки копятся в памяти и пишутся пачкой по таймеру или по лимиту.
- Load Shedding: при переполнении буфера снимок отбрасывается и логируется.
  Следующая смена статуса той же задачи все равно запишет актуальное состояние.
- Drain: Stop закрывает вход, воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"go.uber.org/zap"
)

// Storage определяет, куда физически сохраняются снимки
type Storage interface {
	WriteBatch(ctx context.Context, tasks []domain.Task) error
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

type Journal struct {
	ch     chan domain.Task
	repo   Storage
	logger *zap.Logger
	opts   Options
	wg     sync.WaitGroup

	// Закрытие канала и отправка в него разведены через RWMutex:
	// Log держит RLock, Stop берет Lock перед close.
	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
}

func New(repo Storage, logger *zap.Logger, opts Options) *Journal {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Journal{
		ch:     make(chan domain.Task, opts.BufferSize),
		repo:   repo,
		logger: logger.With(zap.String("mod", "journal")),
		opts:   opts,
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop запирает вход и ждет, пока воркер все допишет.
func (j *Journal) Stop() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	j.logger.Info("stopping journal: flushing buffer...")
	j.wg.Wait()
	j.logger.Info("journal stopped gracefully", zap.Int64("dropped", j.dropped.Load()))
}

// Log ставит снимок в очередь на запись. Вызывающий передает уже готовую копию.
func (j *Journal) Log(task domain.Task) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		j.logger.Warn("task snapshot dropped: journal is stopping", zap.String("task_id", task.ID))
		return
	}

	select {
	case j.ch <- task:
	default:
		j.dropped.Add(1)
		j.logger.Error("journal_buffer_overflow",
			zap.String("task_id", task.ID),
			zap.String("status", string(task.Status)),
		)
	}
}

// Len — текущее заполнение буфера (для метрики backpressure)
func (j *Journal) Len() int {
	return len(j.ch)
}

func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]domain.Task, 0, j.opts.BatchSize)
	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: к моменту финального flush основной контекст уже отменен
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.repo.WriteBatch(ctx, batch); err != nil {
			j.logger.Error("journal flush failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case task, ok := <-j.ch:
			if !ok {
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, task)
			if len(batch) >= j.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

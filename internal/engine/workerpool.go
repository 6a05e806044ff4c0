package engine

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var ErrPoolFull = errors.New("worker pool queue is full")

// WorkerPool — фиксированное число воркеров, читающих замыкания из ограниченного канала.
// Submit не блокирует: при заполненной очереди возвращает ErrPoolFull (backpressure).
type WorkerPool struct {
	workers   int
	taskQueue chan func()
	logger    *zap.Logger

	waitGroup sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	busy      atomic.Int32
	stopOnce  sync.Once
}

// NewWorkerPool создает пул и сразу запускает воркеров
func NewWorkerPool(numberOfWorkers, queueSize int, logger *zap.Logger) *WorkerPool {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	wp := &WorkerPool{
		workers:   numberOfWorkers,
		taskQueue: make(chan func(), queueSize),
		logger:    logger.With(zap.String("mod", "pool")),
		ctx:       ctx,
		cancel:    cancel,
	}

	for i := 0; i < numberOfWorkers; i++ {
		wp.waitGroup.Add(1)
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case job, ok := <-wp.taskQueue:
			if !ok {
				return
			}
			wp.run(job)
		}
	}
}

func (wp *WorkerPool) run(job func()) {
	wp.busy.Add(1)
	defer wp.busy.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("worker recovered panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	job()
}

// Submit добавляет задачу в пул без ожидания.
func (wp *WorkerPool) Submit(job func()) error {
	if job == nil {
		return nil
	}
	if !wp.IsRunning() {
		return ErrPoolStopped
	}

	select {
	case wp.taskQueue <- job:
		return nil
	default:
		return ErrPoolFull
	}
}

var ErrPoolStopped = errors.New("worker pool is stopped")

// Busy — сколько воркеров сейчас исполняют задачу
func (wp *WorkerPool) Busy() int {
	return int(wp.busy.Load())
}

func (wp *WorkerPool) Size() int {
	return wp.workers
}

// Stop выполняет только текущие задачи, отбрасывая очередь
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
	cleanup:
		for {
			select {
			case <-wp.taskQueue:
			default:
				break cleanup
			}
		}
		wp.cancel()
		wp.waitGroup.Wait()
	})
}

// StopWait дожидается выполнения всех задач в очереди.
// Вызывающий гарантирует, что Submit больше не вызывается.
func (wp *WorkerPool) StopWait() {
	wp.stopOnce.Do(func() {
		close(wp.taskQueue)
		wp.waitGroup.Wait()
		wp.cancel()
	})
}

func (wp *WorkerPool) IsRunning() bool {
	select {
	case <-wp.ctx.Done():
		return false
	default:
		return true
	}
}

package subscriber

import (
	"context"
	"sync"
)

type task interface {
	do()
}

type dispatcherQueue chan chan task
type workerQueue chan task

type worker struct {
	ctx             context.Context
	dispatcherQueue dispatcherQueue
	myTasks         workerQueue
}

func newWorker(ctx context.Context, dispatcherQueue dispatcherQueue) worker {
	return worker{
		ctx:             ctx,
		dispatcherQueue: dispatcherQueue,
		myTasks:         make(workerQueue),
	}
}

func (w *worker) start(wGroup *sync.WaitGroup) {
	go func() {
		defer wGroup.Done()
		defer close(w.myTasks)
		for {
			w.dispatcherQueue <- w.myTasks

			select {
			case <-w.ctx.Done():
				return
			case task, open := <-w.myTasks:
				if !open {
					panic("someone explicitly closed the channel of this worker")
				}
				task.do()
			}
		}
	}()
}

func newPool(workersCount uint) *pool {
	return &pool{
		workersCount:  workersCount,
		workersQueues: make(dispatcherQueue, workersCount),
		mutex:         &sync.RWMutex{},
	}
}

type pool struct {
	mutex *sync.RWMutex

	stopped       bool
	workersCount  uint
	workersQueues dispatcherQueue
}

// busyWorkers returns the number of workers that are busy with processing a task
// and weren't returned to the pool yet
func (p *pool) busyWorkers() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.stopped {
		return 0
	}

	return int(p.workersCount) - len(p.workersQueues)
}

// start schedules the defined number of workers
func (p *pool) start(ctx context.Context) {
	wGroup := &sync.WaitGroup{}
	var i uint

	workersCtx, stopWorkers := context.WithCancel(ctx)

	for i = 0; i < p.workersCount; i++ {
		worker := newWorker(workersCtx, p.workersQueues)
		wGroup.Add(1)
		worker.start(wGroup)
	}

	go func() {
		<-ctx.Done()

		// Dry out all workers from the pool. The loop over workersCount is used very much intentionally.
		// After each worker finishes its job it places itself into the pool again and that's where we have
		// a chance to catch it and remove from the pool. Eventually all p.workersCount must be removed
		// from the pool before we can close the pool and cancel workers ctx.
		for i := 0; i < int(p.workersCount); i++ {
			<-p.workersQueues
		}

		close(p.workersQueues)

		stopWorkers()

		wGroup.Wait()

		p.mutex.Lock()
		p.stopped = true
		p.mutex.Unlock()
	}()
}

// queue returns a worker's chan that is ready to accept a job to do
func (p *pool) queue() dispatcherQueue {
	return p.workersQueues
}

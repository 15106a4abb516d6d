package subscriber

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool(t *testing.T) {
	rand.Seed(time.Now().Unix())

	t.Run("assigns jobs to free workers", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		workersCount := 10
		jobsChan := simulateConsume(100)
		workerPool := newPool(uint(workersCount))

		workerPool.start(ctx)

		time.Sleep(time.Second)

		assert.Equal(t, 0, workerPool.busyWorkers())

		counter := 0
		for job := range jobsChan {
			// verify that all workers are getting busy in order 1 2 3 4...
			if counter < workersCount {
				assert.Equal(t, counter, workerPool.busyWorkers())
			}

			worker := <-workerPool.queue()
			worker <- job
			counter++
		}

		time.Sleep(time.Second)

		assert.Equal(t, 0, workerPool.busyWorkers())
	})

	t.Run("cancel ctx", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		workersCount := 10
		workerPool := newPool(uint(workersCount))
		workerPool.start(ctx)

		time.Sleep(time.Millisecond * 500)

		// once the ctx is canceled workers finish their jobs and leave the pool
		cancel()

		for i := 1; i < 1000; i++ {
			worker, opened := <-workerPool.queue()
			if !opened {
				t.Logf("%d jobs processed after ctx was cancelled", i)
				break
			}
			worker <- &job{id: i}
		}

		time.Sleep(time.Millisecond * 200)

		_, opened := <-workerPool.queue()
		assert.False(t, opened)

		assert.Equal(t, 0, workerPool.busyWorkers())
	})
}

type job struct {
	id int
}

func (j job) do() {
	if rand.Intn(10)%4 == 0 {
		time.Sleep(time.Millisecond * 800)
		return
	}

	// between 200 and 400ms
	time.Sleep(time.Millisecond * time.Duration(rand.Intn(200)+200))
}

func simulateConsume(jobsCount int) chan *job {
	respChan := make(chan *job)

	go func() {
		defer close(respChan)
		for i := 0; i < jobsCount; i++ {
			respChan <- &job{id: i}
		}
	}()

	return respChan
}

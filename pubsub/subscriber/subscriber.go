package subscriber

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GeorgeRitchie/bookstore-orders/log"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/transport"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/transport/amqp"
	"github.com/pkg/errors"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../../testing/mocks/pubsub/subscriber/subscriber.go -package subscriber . Processor

// Processor handles a single incoming package. An error means the package must not be
// acked and will be redelivered.
type Processor interface {
	Process(ctx context.Context, inPkg transport.IncomingPkg) error
}

// Subscriber starts listening for queues and processes messages
type Subscriber interface {
	// Run listens queues for packages and processes them. Gracefully shuts down either on os.Signal or ctx.Done()
	Run(ctx context.Context, queues ...transport.Queue) error
	// Stop gracefully stops subscriber and calls transport.Disconnect()
	Stop(ctx context.Context) error
}

// Config allows to configure subscriber workflow
type Config struct {
	// WorkersCount specifies a number of workers that process packages
	WorkersCount uint
	// WorkerWaitingAssignmentTimeout amount of time that a worker will wait for assigning a package
	WorkerWaitingAssignmentTimeout time.Duration
	// PackageProcessingMaxTime amount of time for a package to be processed
	PackageProcessingMaxTime time.Duration
	// GracefulShutdownTimeout amount of time for graceful shutdown
	GracefulShutdownTimeout time.Duration
}

var DefaultConfig = Config{
	WorkersCount:                   10,
	WorkerWaitingAssignmentTimeout: time.Second * 3,
	PackageProcessingMaxTime:       time.Second * 60,
	GracefulShutdownTimeout:        time.Second * 61,
}

type subscriberOpts struct {
	config *Config
}

type Opt func(o *subscriberOpts)

func WithConfig(c *Config) Opt {
	return func(o *subscriberOpts) {
		o.config = c
	}
}

// NewSubscriber creates default subscriber implementation
func NewSubscriber(transport transport.Transport, processor Processor, logger log.Logger, opts ...Opt) Subscriber {
	sOpts := &subscriberOpts{}

	for _, o := range opts {
		o(sOpts)
	}

	config := &DefaultConfig

	if sOpts.config != nil {
		config = sOpts.config
	}

	return &subscriber{
		transport:  transport,
		logger:     logger,
		processor:  processor,
		workerPool: newPool(config.WorkersCount),
		config:     config,
	}
}

type subscriber struct {
	transport  transport.Transport
	logger     log.Logger
	processor  Processor
	workerPool *pool
	config     *Config
}

func (s *subscriber) Run(ctx context.Context, queues ...transport.Queue) error {
	s.logger.Logf(log.InfoLevel, "started subscriber. Listening to queues: %v", queues)

	signalChan := make(chan os.Signal, 1)
	defer close(signalChan)

	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	consumerCtx, cancelConsumerCtx := context.WithCancel(ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.GracefulShutdownTimeout)
	defer shutdownCancel()
	defer cancelConsumerCtx()

	consumedPkgs, err := s.transport.Consume(consumerCtx, queues, amqp.WithQosPrefetchCount(s.config.WorkersCount))

	if err != nil {
		return errors.WithStack(err)
	}

	s.workerPool.start(consumerCtx)

	scheduleTicker := time.NewTicker(s.config.WorkerWaitingAssignmentTimeout)

	defer scheduleTicker.Stop()

	for {
		select {
		case worker, open := <-s.workerPool.queue():
			if !open {
				s.logger.Logf(log.InfoLevel, "worker's channel is closed")
				return nil
			}
			select {
			case <-scheduleTicker.C:
				s.logger.Logf(log.DebugLevel, "worker was waiting %s for a job to start. returning him to the pool", s.config.WorkerWaitingAssignmentTimeout.String())
				s.workerPool.queue() <- worker
			case incomingPkg, open := <-consumedPkgs:
				if !open {
					return nil
				}
				worker <- newTaskProcessPkg(ctx, incomingPkg, s)
			}
		case <-ctx.Done():
			s.logger.Logf(log.InfoLevel, "subscriber's context was canceled")
			if err := s.Stop(shutdownCtx); err != nil {
				s.logger.Logf(log.ErrorLevel, "error stopping subscriber gracefully %s", err)
				return errors.Wrapf(err, "stopping subscriber gracefully")
			}
			return nil
		case <-signalChan:
			s.logger.Logf(log.InfoLevel, "received kill signal")
			if err := s.Stop(shutdownCtx); err != nil {
				s.logger.Logf(log.ErrorLevel, "error stopping subscriber gracefully %s", err)
				return errors.Wrapf(err, "stopping subscriber gracefully")
			}
			return nil
		}
	}
}

func (s *subscriber) processPackage(ctx context.Context, inPkg transport.IncomingPkg) {
	processorCtx, processorCancel := context.WithTimeout(ctx, s.config.PackageProcessingMaxTime)
	defer processorCancel()

	s.logger.Logf(log.DebugLevel, "started processing package id %s", inPkg.UID())

	if err := s.processor.Process(processorCtx, inPkg); err != nil {
		s.logger.Logf(log.ErrorLevel, "error happened while processing pkg %s from %s. %s", inPkg.UID(), inPkg.Origin(), err)

		if err := inPkg.Nack(); err != nil {
			s.logger.Logf(log.ErrorLevel, "error nacking package %s. %s", inPkg.UID(), err)
		}

		return
	}

	if err := inPkg.Ack(); err != nil {
		s.logger.Logf(log.ErrorLevel, "error acking package %s. %s", inPkg.UID(), err)
		return
	}

	s.logger.Logf(log.DebugLevel, "acked package id %s", inPkg.UID())
}

func (s *subscriber) Stop(ctx context.Context) error {
	if s.workerPool.busyWorkers() > 0 {
		s.logger.Logf(log.InfoLevel, "graceful shutdown. Waiting subscriber for finishing %d tasks in progress", s.workerPool.busyWorkers())
	}

	waitingTicker := time.NewTicker(time.Second)
	defer waitingTicker.Stop()

	for s.workerPool.busyWorkers() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Logf(log.WarnLevel, "stopped subscriber because of canceled parent ctx")
			return nil
		case <-waitingTicker.C:
			s.logger.Logf(log.InfoLevel, "waiting for processor to finish all remaining tasks in a queue. Tasks in progress: %d", s.workerPool.busyWorkers())
		}
	}

	s.logger.Logf(log.InfoLevel, "all tasks are finished. Disconnecting from transport")

	return s.transport.Disconnect(ctx)
}

type processPkg struct {
	ctx        context.Context
	pkg        transport.IncomingPkg
	subscriber *subscriber
}

func newTaskProcessPkg(ctx context.Context, pkg transport.IncomingPkg, subscriber *subscriber) *processPkg {
	return &processPkg{
		ctx:        ctx,
		pkg:        pkg,
		subscriber: subscriber,
	}
}

func (p *processPkg) do() {
	p.subscriber.processPackage(p.ctx, p.pkg)
}

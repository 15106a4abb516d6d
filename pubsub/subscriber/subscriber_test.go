package subscriber

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/stretchr/testify/assert"

	"github.com/GeorgeRitchie/bookstore-orders/pubsub/transport"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/transport/amqp"

	testLog "github.com/GeorgeRitchie/bookstore-orders/testing/log"
	subscriberMock "github.com/GeorgeRitchie/bookstore-orders/testing/mocks/pubsub/subscriber"

	transportMock "github.com/GeorgeRitchie/bookstore-orders/testing/mocks/pubsub/transport"
	"github.com/golang/mock/gomock"
)

func TestSubscriber(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	testTransport := transportMock.NewMockTransport(ctrl)
	testProcessor := subscriberMock.NewMockProcessor(ctrl)

	testLogger := testLog.NewTestLogger()

	// graceful shutdown disconnects from the transport once workers drain
	testTransport.EXPECT().Disconnect(gomock.Any()).Return(nil).AnyTimes()

	t.Run("error consume", func(t *testing.T) {
		defer testLogger.Clear()

		ctx := context.Background()
		queues := []transport.Queue{
			amqp.Queue("first", false, false, false, false),
		}
		testTransport.
			EXPECT().
			Consume(gomock.Any(), queues).
			Return(nil, errors.New("consume err"))

		subscriber := NewSubscriber(testTransport, testProcessor, testLogger)
		err := subscriber.Run(ctx, queues...)
		assert.Error(t, err)
		assert.EqualError(t, err, "consume err")
	})

	t.Run("process packages and exit by cancelling the ctx", func(t *testing.T) {
		defer testLogger.Clear()

		queues := []transport.Queue{
			amqp.Queue("second", false, false, false, false),
		}
		subscriber := NewSubscriber(testTransport, testProcessor, testLogger)
		ctx, cancel := context.WithCancel(context.Background())

		doneCh := make(chan struct{})

		pkgsChan := producePackages(ctrl, testProcessor, 100, doneCh)

		testTransport.
			EXPECT().
			Consume(gomock.AssignableToTypeOf(ctx), queues).
			Return(pkgsChan, nil)

		wg := &sync.WaitGroup{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := subscriber.Run(ctx, queues...); err != nil {
				assert.NoError(t, err)
			}
		}()

		<-doneCh

		cancel()

		wg.Wait()

		assert.Len(t, pkgsChan, 0)
		close(pkgsChan)

		assert.Contains(t, testLogger.Messages(), "subscriber's context was canceled")
	})

	t.Run("failed package is nacked for redelivery", func(t *testing.T) {
		defer testLogger.Clear()

		queues := []transport.Queue{
			amqp.Queue("third", false, false, false, false),
		}
		subscriber := NewSubscriber(testTransport, testProcessor, testLogger)
		ctx, cancel := context.WithCancel(context.Background())

		pkgsChan := make(chan transport.IncomingPkg)

		testTransport.
			EXPECT().
			Consume(gomock.AssignableToTypeOf(ctx), queues).
			Return(pkgsChan, nil)

		nacked := make(chan struct{})

		inPkg := transportMock.NewMockIncomingPkg(ctrl)
		inPkg.EXPECT().UID().Return("broken").AnyTimes()
		inPkg.EXPECT().Origin().Return("third")
		inPkg.
			EXPECT().
			Nack().
			DoAndReturn(func(options ...transport.AcknowledgmentOption) error {
				close(nacked)
				return nil
			})
		testProcessor.
			EXPECT().
			Process(gomock.Any(), inPkg).
			Return(errors.New("handling err"))

		wg := &sync.WaitGroup{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := subscriber.Run(ctx, queues...); err != nil {
				assert.NoError(t, err)
			}
		}()

		pkgsChan <- inPkg

		<-nacked

		cancel()

		wg.Wait()
		close(pkgsChan)
	})
}

func producePackages(ctrl *gomock.Controller, processorMock *subscriberMock.MockProcessor, count int, done chan struct{}) chan transport.IncomingPkg {
	respChan := make(chan transport.IncomingPkg)

	go func() {
		defer func() {
			done <- struct{}{}
		}()
		for i := 0; i < count; i++ {
			inPkg := transportMock.NewMockIncomingPkg(ctrl)
			inPkg.EXPECT().UID().Return(fmt.Sprintf("%d", i)).Times(2)
			inPkg.EXPECT().Ack().Return(nil)
			processorMock.
				EXPECT().
				Process(gomock.Any(), inPkg).
				Return(nil)
			respChan <- inPkg
		}
	}()

	return respChan
}

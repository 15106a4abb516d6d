package inbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/endpoint"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/message"
	"github.com/GeorgeRitchie/bookstore-orders/pubsub/transport"
	"github.com/GeorgeRitchie/bookstore-orders/runtime/scheme"
	storagesql "github.com/GeorgeRitchie/bookstore-orders/storage/sql"
	testLog "github.com/GeorgeRitchie/bookstore-orders/testing/log"
	endpointMock "github.com/GeorgeRitchie/bookstore-orders/testing/mocks/pubsub/endpoint"
	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type guardedEvent struct {
	message.ObjectMeta
	OrderUID string `json:"order_uid"`
}

func (e guardedEvent) AggregateUID() string {
	return e.OrderUID
}

// unkeyedEvent carries no order uid on purpose
type unkeyedEvent struct {
	message.ObjectMeta
	Note string `json:"note"`
}

type fakePkg struct {
	payload []byte
}

func (f fakePkg) UID() string                     { return "delivery-1" }
func (f fakePkg) Origin() string                  { return "test-queue" }
func (f fakePkg) Payload() []byte                 { return f.payload }
func (f fakePkg) Headers() map[string]interface{} { return map[string]interface{}{"traced": true} }

func (f fakePkg) Ack(options ...transport.AcknowledgmentOption) error    { return nil }
func (f fakePkg) Nack(options ...transport.AcknowledgmentOption) error   { return nil }
func (f fakePkg) Reject(options ...transport.AcknowledgmentOption) error { return nil }

func (f fakePkg) ReceivedAt() time.Time  { return time.Now().UTC() }
func (f fakePkg) PublishedAt() time.Time { return time.Now().UTC() }

type fakeMutex struct {
	locked   []string
	released []string
	lockErr  error
}

func (f *fakeMutex) Lock(ctx context.Context, orderUID string) error {
	if f.lockErr != nil {
		return f.lockErr
	}

	f.locked = append(f.locked, orderUID)

	return nil
}

func (f *fakeMutex) Release(ctx context.Context, orderUID string) error {
	f.released = append(f.released, orderUID)
	return nil
}

type fakeInboxStore struct {
	fresh     bool
	recorded  []*Record
	processed []string
	errs      map[string]string
	recordErr error
}

func newFakeInboxStore() *fakeInboxStore {
	return &fakeInboxStore{fresh: true, errs: make(map[string]string)}
}

func (f *fakeInboxStore) Record(ctx context.Context, tx *sql.Tx, rec *Record, consumer string) (bool, error) {
	if f.recordErr != nil {
		return false, f.recordErr
	}

	f.recorded = append(f.recorded, rec)

	return f.fresh, nil
}

func (f *fakeInboxStore) MarkProcessed(ctx context.Context, tx *sql.Tx, uid string) error {
	f.processed = append(f.processed, uid)
	return nil
}

func (f *fakeInboxStore) RecordError(ctx context.Context, uid string, handlingErr error) error {
	f.errs[uid] = handlingErr.Error()
	return nil
}

type receiverFixture struct {
	receiver *Receiver
	store    *fakeInboxStore
	mutex    *fakeMutex
	registry HandlerRegistry
	dbMock   sqlmock.Sqlmock
	handled  []*message.ReceivedMessage
}

func newReceiverFixture(t *testing.T, handlerErr error, opts ...ReceiverOpt) *receiverFixture {
	t.Helper()

	knownTypes := scheme.NewKnownTypesRegistry()
	knownTypes.AddKnownTypes("tests", &guardedEvent{}, &unkeyedEvent{})

	marshaller := message.NewJSONMarshaller(knownTypes)
	decoder := message.NewJSONDecoder(knownTypes, marshaller)

	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)

	f := &receiverFixture{
		store:    newFakeInboxStore(),
		mutex:    &fakeMutex{},
		registry: NewHandlerRegistry(),
		dbMock:   dbMock,
	}

	f.registry.Register(&guardedEvent{}, func(ctx context.Context, tx *sql.Tx, msg *message.ReceivedMessage) error {
		f.handled = append(f.handled, msg)
		return handlerErr
	})

	f.receiver = NewReceiver(
		decoder,
		marshaller,
		storagesql.NewDB(db),
		f.store,
		f.registry,
		f.mutex,
		"orders-service",
		testLog.NewTestLogger(),
		opts...,
	)

	return f
}

func encodePkg(t *testing.T, uid, name string, content interface{}) fakePkg {
	return encodePkgWithHeaders(t, uid, name, content, nil)
}

func encodePkgWithHeaders(t *testing.T, uid, name string, content interface{}, headers message.Headers) fakePkg {
	t.Helper()

	raw, err := json.Marshal(content)
	require.NoError(t, err)

	env := message.Envelope{
		UID:           uid,
		OccurredOnUTC: time.Now().UTC(),
		Name:          name,
		Content:       raw,
		Headers:       headers,
	}

	payload, err := json.Marshal(env)
	require.NoError(t, err)

	return fakePkg{payload: payload}
}

func TestReceiverProcessesFreshMessage(t *testing.T) {
	f := newReceiverFixture(t, nil)

	f.dbMock.ExpectBegin()
	f.dbMock.ExpectCommit()

	pkg := encodePkg(t, "msg-1", "tests.guardedEvent", guardedEvent{OrderUID: "order-1"})

	require.NoError(t, f.receiver.Process(context.Background(), pkg))

	require.Len(t, f.handled, 1)
	assert.Equal(t, "msg-1", f.handled[0].UID())

	require.Len(t, f.store.recorded, 1)
	assert.Equal(t, "msg-1", f.store.recorded[0].UID)
	assert.Equal(t, "tests.guardedEvent", f.store.recorded[0].Name)

	assert.Equal(t, []string{"msg-1"}, f.store.processed)
	assert.Equal(t, []string{"order-1"}, f.mutex.locked)
	assert.Equal(t, []string{"order-1"}, f.mutex.released)

	assert.NoError(t, f.dbMock.ExpectationsWereMet())
}

func TestReceiverSkipsDuplicateMessage(t *testing.T) {
	f := newReceiverFixture(t, nil)
	f.store.fresh = false

	f.dbMock.ExpectBegin()
	f.dbMock.ExpectCommit()

	pkg := encodePkg(t, "msg-1", "tests.guardedEvent", guardedEvent{OrderUID: "order-1"})

	require.NoError(t, f.receiver.Process(context.Background(), pkg))

	assert.Empty(t, f.handled)
	assert.Empty(t, f.store.processed)
	assert.Equal(t, []string{"order-1"}, f.mutex.released)

	assert.NoError(t, f.dbMock.ExpectationsWereMet())
}

func TestReceiverRollsBackOnHandlerError(t *testing.T) {
	f := newReceiverFixture(t, errors.New("handler exploded"))

	f.dbMock.ExpectBegin()
	f.dbMock.ExpectRollback()

	pkg := encodePkg(t, "msg-1", "tests.guardedEvent", guardedEvent{OrderUID: "order-1"})

	err := f.receiver.Process(context.Background(), pkg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler exploded")

	assert.Empty(t, f.store.processed)
	assert.Contains(t, f.store.errs["msg-1"], "handler exploded")
	assert.Equal(t, []string{"order-1"}, f.mutex.released)

	assert.NoError(t, f.dbMock.ExpectationsWereMet())
}

func TestReceiverDropsMessageOnDropErr(t *testing.T) {
	f := newReceiverFixture(t, WithDropErr(errors.New("order moved on")))

	f.dbMock.ExpectBegin()
	f.dbMock.ExpectCommit()

	pkg := encodePkg(t, "msg-1", "tests.guardedEvent", guardedEvent{OrderUID: "order-1"})

	require.NoError(t, f.receiver.Process(context.Background(), pkg))

	assert.Equal(t, []string{"msg-1"}, f.store.processed)
	assert.Contains(t, f.store.errs["msg-1"], "order moved on")

	assert.NoError(t, f.dbMock.ExpectationsWereMet())
}

func TestReceiverReturnsFailedMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	returnsEndpoint := endpointMock.NewMockEndpoint(ctrl)

	f := newReceiverFixture(t, errors.New("handler exploded"), WithReturns(returnsEndpoint, 3))

	f.dbMock.ExpectBegin()
	f.dbMock.ExpectRollback()

	var returned *message.OutcomingMessage

	returnsEndpoint.
		EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, msg *message.OutcomingMessage, opts ...endpoint.DeliveryOption) error {
			returned = msg
			return nil
		})

	pkg := encodePkg(t, "msg-1", "tests.guardedEvent", guardedEvent{OrderUID: "order-1"})

	// the delivery is acknowledged, the retry happens through the returned copy
	require.NoError(t, f.receiver.Process(context.Background(), pkg))

	require.NotNil(t, returned)
	assert.Equal(t, "msg-1", returned.UID())
	assert.Equal(t, 1, returned.Headers().ReturnsCount())

	assert.Empty(t, f.store.processed)
	assert.Contains(t, f.store.errs["msg-1"], "handler exploded")

	assert.NoError(t, f.dbMock.ExpectationsWereMet())
}

func TestReceiverAbandonsMessagePastReturnsLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// no Send expectation, a message at the limit must not be re-enqueued
	returnsEndpoint := endpointMock.NewMockEndpoint(ctrl)

	f := newReceiverFixture(t, errors.New("handler exploded"), WithReturns(returnsEndpoint, 3))

	f.dbMock.ExpectBegin()
	f.dbMock.ExpectRollback()

	// json decoding turns the header's number into a float64 on the way in
	pkg := encodePkgWithHeaders(t, "msg-1", "tests.guardedEvent", guardedEvent{OrderUID: "order-1"}, message.Headers{"returnsCount": 3})

	require.NoError(t, f.receiver.Process(context.Background(), pkg))

	assert.Empty(t, f.store.processed)
	assert.Contains(t, f.store.errs["msg-1"], "handler exploded")

	assert.NoError(t, f.dbMock.ExpectationsWereMet())
}

func TestReceiverFallsBackToRedeliveryWhenReturnFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	returnsEndpoint := endpointMock.NewMockEndpoint(ctrl)
	returnsEndpoint.
		EXPECT().
		Send(gomock.Any(), gomock.Any()).
		Return(errors.New("broker is down"))

	f := newReceiverFixture(t, errors.New("handler exploded"), WithReturns(returnsEndpoint, 3))

	f.dbMock.ExpectBegin()
	f.dbMock.ExpectRollback()

	pkg := encodePkg(t, "msg-1", "tests.guardedEvent", guardedEvent{OrderUID: "order-1"})

	err := f.receiver.Process(context.Background(), pkg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler exploded")

	assert.NoError(t, f.dbMock.ExpectationsWereMet())
}

func TestReceiverAcksUndecodablePayload(t *testing.T) {
	f := newReceiverFixture(t, nil)

	require.NoError(t, f.receiver.Process(context.Background(), fakePkg{payload: []byte("not json at all")}))

	assert.Empty(t, f.handled)
	assert.Empty(t, f.mutex.locked)
}

func TestReceiverAcksMessageWithoutHandler(t *testing.T) {
	f := newReceiverFixture(t, nil)

	// unkeyedEvent has no handler registered and no aggregate uid either
	pkg := encodePkg(t, "msg-1", "tests.unkeyedEvent", unkeyedEvent{Note: "hello"})

	require.NoError(t, f.receiver.Process(context.Background(), pkg))

	assert.Empty(t, f.handled)
	assert.Empty(t, f.mutex.locked)
}

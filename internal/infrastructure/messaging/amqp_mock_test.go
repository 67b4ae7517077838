package messaging

import (
	"context"
	"sync"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/mock"
)

type MockAMQPConnection struct {
	MockChannel AMQPChannel
	ChannelErr  error
	CloseCalled bool
}

func (m *MockAMQPConnection) Channel() (AMQPChannel, error) {
	if m.ChannelErr != nil {
		return nil, m.ChannelErr
	}
	return m.MockChannel, nil
}

func (m *MockAMQPConnection) Close() error {
	m.CloseCalled = true
	return nil
}

type MockAMQPChannel struct {
	Deliveries      chan amqp.Delivery
	QueueDeclareErr error
	ConsumeErr      error

	LastQueueName   string
	LastConsumerTag string
	LastPrefetch    int
	AutoAck         bool
	CloseCalled     bool
}

func (m *MockAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.LastQueueName = name
	if m.QueueDeclareErr != nil {
		return amqp.Queue{}, m.QueueDeclareErr
	}
	return amqp.Queue{Name: name}, nil
}

func (m *MockAMQPChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	m.LastPrefetch = prefetchCount
	return nil
}

func (m *MockAMQPChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	m.LastConsumerTag = consumer
	m.AutoAck = autoAck
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	return m.Deliveries, nil
}

func (m *MockAMQPChannel) Close() error {
	m.CloseCalled = true
	return nil
}

type MockAMQPDialer struct {
	mu             sync.Mutex
	MockConnection AMQPConnection
	DialErr        error
	DialCount      int
}

func (m *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DialCount++
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m.MockConnection, nil
}

func (m *MockAMQPDialer) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DialCount
}

// settlement records how a delivery was settled.
type settlement struct {
	acked    bool
	nacked   bool
	requeued bool
}

type recordingAcknowledger struct {
	mu      sync.Mutex
	settled map[uint64]settlement
}

func newRecordingAcknowledger() *recordingAcknowledger {
	return &recordingAcknowledger{settled: make(map[uint64]settlement)}
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = settlement{acked: true}
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[tag] = settlement{nacked: true, requeued: requeue}
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *recordingAcknowledger) get(tag uint64) (settlement, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.settled[tag]
	return s, ok
}

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) CompleteSuccessfully(ctx context.Context, requestID string, payload []byte) error {
	return m.Called(ctx, requestID, payload).Error(0)
}

func (m *mockHandler) CompletePartially(ctx context.Context, requestID string, payload []byte) error {
	return m.Called(ctx, requestID, payload).Error(0)
}

func (m *mockHandler) CompleteUnsuccessfully(ctx context.Context, requestID, message string) error {
	return m.Called(ctx, requestID, message).Error(0)
}

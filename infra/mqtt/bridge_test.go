package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/clinicflow/core/events"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/infra/logger"
	"github.com/kilianp07/clinicflow/internal/eventbus"
)

type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[string]func(string, []byte)
	published []published
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: map[string]func(string, []byte){}}
}

func (f *fakeTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic, qos, retained, payload})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, h func(string, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeTransport) deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(topic, payload)
	return true
}

func (f *fakeTransport) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

type recordingSubmitter struct {
	mu  sync.Mutex
	got []model.SchedulerEvent
}

func (r *recordingSubmitter) SubmitEvent(ev model.SchedulerEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return true, nil
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"id":"e1","type":"traffic_update","timestamp":"2024-03-04T09:00:00Z","patient_id":"p1","delay_minutes":12}`))
	require.NoError(t, err)
	assert.Equal(t, model.EventTrafficUpdate, ev.Type)
	assert.Equal(t, 12.0, ev.DelayMinutes)

	_, err = DecodeEvent([]byte(`{"type":"teleport","patient_id":"p1"}`))
	assert.True(t, errors.Is(err, model.ErrValidation))
	_, err = DecodeEvent([]byte(`{"type":"no_show"}`))
	assert.True(t, errors.Is(err, model.ErrValidation))
	_, err = DecodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeEvent(t *testing.T) {
	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	ev := model.NewEvent(model.EventPatientArrival, "p1", at)
	ev.ArrivalTime = at
	payload, err := EncodeEvent(ev)
	require.NoError(t, err)
	got, err := DecodeEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.True(t, got.ArrivalTime.Equal(at))

	_, err = EncodeEvent(model.SchedulerEvent{Type: model.EventNoShow})
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestNewBridgeRequiresCollaborators(t *testing.T) {
	bus := eventbus.NewTyped[events.Notification]()
	_, err := NewBridge(nil, Config{}, "dr-1", &recordingSubmitter{}, bus, logger.NopLogger{})
	assert.True(t, errors.Is(err, model.ErrConfiguration))
	_, err = NewBridge(newFakeTransport(), Config{}, "", &recordingSubmitter{}, bus, logger.NopLogger{})
	assert.True(t, errors.Is(err, model.ErrConfiguration))
}

func TestBridgeRoundTrip(t *testing.T) {
	tr := newFakeTransport()
	sub := &recordingSubmitter{}
	bus := eventbus.NewTyped[events.Notification]()
	b, err := NewBridge(tr, Config{QoS: map[string]byte{"schedule": 1}}, "dr-1", sub, bus, logger.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	require.True(t, tr.deliver("clinic/dr-1/events", []byte(`{"id":"e1","type":"patient_arrival","patient_id":"p1"}`)))
	require.True(t, tr.deliver("clinic/dr-1/events", []byte(`garbage`)))
	require.Len(t, sub.got, 1)
	assert.Equal(t, "p1", sub.got[0].PatientID)

	sched := &model.OptimizedSchedule{
		DoctorID: "dr-1",
		Sequence: []model.Patient{{ID: "p1"}, {ID: "p2"}},
		Trigger:  model.EventPatientArrival,
	}
	bus.Publish(events.Notification{Kind: events.KindScheduleUpdated, Schedule: &events.ScheduleUpdated{Schedule: sched}})
	bus.Publish(events.Notification{
		Kind:  events.KindEngineError,
		Time:  time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		Error: &events.EngineError{Err: errors.New("boom"), Events: []model.SchedulerEvent{{ID: "e9"}}},
	})
	require.Eventually(t, func() bool { return len(tr.sent()) == 2 }, time.Second, 5*time.Millisecond)

	out := tr.sent()
	assert.Equal(t, "clinic/dr-1/schedule", out[0].topic)
	assert.True(t, out[0].retained)
	assert.Equal(t, byte(1), out[0].qos)
	var msg ScheduleMessage
	require.NoError(t, json.Unmarshal(out[0].payload, &msg))
	assert.Equal(t, []string{"p1", "p2"}, msg.Sequence)
	assert.Equal(t, "patient_arrival", msg.Trigger)

	assert.Equal(t, "clinic/dr-1/alerts", out[1].topic)
	var alert AlertMessage
	require.NoError(t, json.Unmarshal(out[1].payload, &alert))
	assert.Equal(t, "boom", alert.Error)
	assert.Equal(t, []string{"e9"}, alert.EventIDs)

	b.Stop()
	b.Stop()
	assert.False(t, tr.deliver("clinic/dr-1/events", []byte(`{}`)))
	assert.Equal(t, 0, bus.Subscribers())
}

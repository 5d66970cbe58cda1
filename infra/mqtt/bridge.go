package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kilianp07/clinicflow/core/events"
	"github.com/kilianp07/clinicflow/core/logger"
	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/internal/eventbus"
)

// EventSubmitter accepts decoded scheduler events.
type EventSubmitter interface {
	SubmitEvent(ev model.SchedulerEvent) (bool, error)
}

// Transport is the subset of Client used by the bridge.
type Transport interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
}

// Bridge feeds events received over MQTT to the scheduler and publishes the
// schedules and failures it produces.
type Bridge struct {
	transport Transport
	submitter EventSubmitter
	bus       *eventbus.TypedBus[events.Notification]
	log       logger.Logger
	cfg       Config
	doctorID  string

	mu   sync.Mutex
	sub  <-chan events.Notification
	done chan struct{}
}

// NewBridge creates a bridge for one doctor.
func NewBridge(t Transport, cfg Config, doctorID string, s EventSubmitter, bus *eventbus.TypedBus[events.Notification], log logger.Logger) (*Bridge, error) {
	switch {
	case t == nil:
		return nil, &model.ConfigurationError{Component: "mqtt bridge", Missing: "transport"}
	case s == nil:
		return nil, &model.ConfigurationError{Component: "mqtt bridge", Missing: "event submitter"}
	case bus == nil:
		return nil, &model.ConfigurationError{Component: "mqtt bridge", Missing: "event bus"}
	case log == nil:
		return nil, &model.ConfigurationError{Component: "mqtt bridge", Missing: "logger"}
	case doctorID == "":
		return nil, &model.ConfigurationError{Component: "mqtt bridge", Missing: "doctor id"}
	}
	cfg.SetDefaults()
	return &Bridge{transport: t, submitter: s, bus: bus, log: log, cfg: cfg, doctorID: doctorID}, nil
}

// Start subscribes to the events topic and forwards bus notifications until
// ctx is done or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	topic := EventsTopic(b.cfg.TopicPrefix, b.doctorID)
	if err := b.transport.Subscribe(topic, b.cfg.qos("events"), b.handleEvent); err != nil {
		return err
	}
	b.sub = b.bus.Subscribe()
	b.done = make(chan struct{})
	go b.forward(ctx, b.sub, b.done)
	b.log.Infof("mqtt bridge listening on %s", topic)
	return nil
}

// Stop unsubscribes from the broker and the bus.
func (b *Bridge) Stop() {
	b.mu.Lock()
	sub, done := b.sub, b.done
	b.sub = nil
	b.mu.Unlock()
	if sub == nil {
		return
	}
	if err := b.transport.Unsubscribe(EventsTopic(b.cfg.TopicPrefix, b.doctorID)); err != nil {
		b.log.Warnf("unsubscribe: %v", err)
	}
	b.bus.Unsubscribe(sub)
	<-done
}

func (b *Bridge) handleEvent(topic string, payload []byte) {
	ev, err := DecodeEvent(payload)
	if err != nil {
		b.log.Warnf("ignoring message on %s: %v", topic, err)
		return
	}
	ok, err := b.submitter.SubmitEvent(ev)
	if err != nil {
		b.log.Errorf("submit %s event: %v", ev.Type, err)
		return
	}
	if !ok {
		b.log.Debugf("%s event %s not accepted", ev.Type, ev.ID)
	}
}

func (b *Bridge) forward(ctx context.Context, sub <-chan events.Notification, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub:
			if !ok {
				return
			}
			if err := b.publish(n); err != nil {
				b.log.Errorf("forward %s: %v", n.Kind, err)
			}
		}
	}
}

func (b *Bridge) publish(n events.Notification) error {
	switch n.Kind {
	case events.KindScheduleUpdated:
		if n.Schedule == nil || n.Schedule.Schedule == nil {
			return nil
		}
		payload, err := EncodeSchedule(n.Schedule.Schedule, n.Schedule.Forced)
		if err != nil {
			return err
		}
		return b.transport.Publish(ScheduleTopic(b.cfg.TopicPrefix, b.doctorID), b.cfg.qos("schedule"), true, payload)
	case events.KindEngineError:
		if n.Error == nil {
			return nil
		}
		msg := AlertMessage{DoctorID: b.doctorID, Time: n.Time, Error: fmt.Sprint(n.Error.Err)}
		for _, ev := range n.Error.Events {
			msg.EventIDs = append(msg.EventIDs, ev.ID)
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return b.transport.Publish(AlertsTopic(b.cfg.TopicPrefix, b.doctorID), b.cfg.qos("alerts"), false, payload)
	}
	return nil
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/clinicflow/core/metrics"
	"github.com/kilianp07/clinicflow/core/model"
)

func captureServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, strings.TrimSpace(string(data)))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), bodies...)
	}
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordSchedule(t *testing.T) {
	srv, bodies := captureServer(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	rec := coremetrics.ScheduleRecord{
		DoctorID: "dr-1",
		Trigger:  "arrival",
		Patients: 4,
		Changes:  2,
		Duration: 3 * time.Millisecond,
		Time:     now,
		Metrics: model.ScheduleMetrics{
			AvgDelayMinutes:        12.3456,
			MaxDelayMinutes:        30,
			TotalIdleMinutes:       5,
			EmergencySLAViolations: 1,
			TotalCost:              99.5,
		},
	}
	if err := sink.RecordSchedule(rec); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("schedule_update").
		AddTag("doctor_id", "dr-1").
		AddTag("trigger", "arrival").
		AddTag("forced", "false").
		AddField("patients", 4).
		AddField("changes", 2).
		AddField("avg_delay_min", 12.346).
		AddField("max_delay_min", 30.0).
		AddField("idle_min", 5.0).
		AddField("overtime_min", 0.0).
		AddField("sla_violations", 1).
		AddField("cost", 99.5).
		AddField("duration_ms", 3.0).
		SetTime(now)
	got := bodies()
	if len(got) != 1 || got[0] != line(p) {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestInfluxSink_RecordEventAndSimulation(t *testing.T) {
	srv, bodies := captureServer(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()

	if err := sink.RecordEvent(coremetrics.EventRecord{
		DoctorID: "dr-1", EventID: "e1", Type: model.EventNoShow, Outcome: "applied", Time: now,
	}); err != nil {
		t.Fatalf("event: %v", err)
	}
	if err := sink.RecordSimulation(coremetrics.SimulationRecord{
		DoctorID: "dr-1", Scenarios: 100, AvgDelayMinutes: 7, P95DelayMinutes: 15, OvertimeProbability: 0.25, Time: now,
	}); err != nil {
		t.Fatalf("simulation: %v", err)
	}

	ev := write.NewPointWithMeasurement("scheduler_event").
		AddTag("doctor_id", "dr-1").
		AddTag("type", string(model.EventNoShow)).
		AddTag("outcome", "applied").
		AddField("event_id", "e1").
		SetTime(now)
	sim := write.NewPointWithMeasurement("simulation_run").
		AddTag("doctor_id", "dr-1").
		AddField("scenarios", 100).
		AddField("avg_delay_min", 7.0).
		AddField("p95_delay_min", 15.0).
		AddField("idle_min", 0.0).
		AddField("overtime_probability", 0.25).
		AddField("sla_violations", 0.0).
		SetTime(now)
	got := bodies()
	if len(got) != 2 || got[0] != line(ev) || got[1] != line(sim) {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}

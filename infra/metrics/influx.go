package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/clinicflow/core/metrics"
	"github.com/kilianp07/clinicflow/infra/logger"
)

// InfluxSink writes optimization passes, events and simulation summaries to
// InfluxDB using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

// RecordSchedule writes one schedule_update point per optimization pass.
func (s *InfluxSink) RecordSchedule(rec coremetrics.ScheduleRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m := rec.Metrics
	p := write.NewPointWithMeasurement("schedule_update").
		AddTag("doctor_id", rec.DoctorID).
		AddTag("trigger", rec.Trigger).
		AddTag("forced", strconv.FormatBool(rec.Forced)).
		AddField("patients", rec.Patients).
		AddField("changes", rec.Changes).
		AddField("avg_delay_min", round3(m.AvgDelayMinutes)).
		AddField("max_delay_min", round3(m.MaxDelayMinutes)).
		AddField("idle_min", round3(m.TotalIdleMinutes)).
		AddField("overtime_min", round3(m.OvertimeMinutes)).
		AddField("sla_violations", m.EmergencySLAViolations).
		AddField("cost", round3(m.TotalCost)).
		AddField("duration_ms", round3(rec.Duration.Seconds()*1000)).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordEvent writes the outcome of a scheduler event.
func (s *InfluxSink) RecordEvent(ev coremetrics.EventRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("scheduler_event").
		AddTag("doctor_id", ev.DoctorID).
		AddTag("type", string(ev.Type)).
		AddTag("outcome", ev.Outcome)
	if ev.PatientID != "" {
		p = p.AddTag("patient_id", ev.PatientID)
	}
	p = p.AddField("event_id", ev.EventID).SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordSimulation persists a Monte Carlo summary.
func (s *InfluxSink) RecordSimulation(rec coremetrics.SimulationRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("simulation_run").
		AddTag("doctor_id", rec.DoctorID).
		AddField("scenarios", rec.Scenarios).
		AddField("avg_delay_min", round3(rec.AvgDelayMinutes)).
		AddField("p95_delay_min", round3(rec.P95DelayMinutes)).
		AddField("idle_min", round3(rec.AvgIdleMinutes)).
		AddField("overtime_probability", round3(rec.OvertimeProbability)).
		AddField("sla_violations", round3(rec.AvgSLAViolations)).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordQueueLength writes the queue size after a pass.
func (s *InfluxSink) RecordQueueLength(doctorID string, n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("queue_length").
		AddTag("doctor_id", doctorID).
		AddField("patients", n).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

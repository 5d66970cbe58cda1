package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/core/simulator"
)

// WriteJSON writes the optimized schedule to w in JSON format.
func WriteJSON(w io.Writer, sched *model.OptimizedSchedule) error {
	if sched == nil {
		return fmt.Errorf("export: nil schedule")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sched)
}

var csvHeader = []string{
	"position", "patient_id", "priority", "predicted_arrival", "planned_start",
	"planned_end", "duration_min", "buffer_min", "wait_min", "confidence",
}

// WriteCSV writes one row per timeline entry, in queue order.
func WriteCSV(w io.Writer, sched *model.OptimizedSchedule) error {
	if sched == nil {
		return fmt.Errorf("export: nil schedule")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range sched.Timeline {
		rec := []string{
			strconv.Itoa(e.Position),
			e.PatientID,
			e.Priority.String(),
			e.PredictedArrival.Format(time.RFC3339),
			e.PlannedStart.Format(time.RFC3339),
			e.PlannedEnd.Format(time.RFC3339),
			formatFloat(e.DurationMinutes),
			formatFloat(e.BufferMinutes),
			formatFloat(e.WaitMinutes),
			formatFloat(e.Confidence),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

// DelayHistogramHTML renders the per-scenario average delays of res as a bar
// chart with the given number of bins.
func DelayHistogramHTML(res *simulator.SimulationResult, bins int) (string, error) {
	if res == nil || len(res.DelaySamples) == 0 {
		return "", fmt.Errorf("export: no delay samples")
	}
	if bins <= 0 {
		bins = 10
	}
	labels, counts := histogram(res.DelaySamples, bins)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Average delay per scenario",
			Subtitle: fmt.Sprintf("%d scenarios, p95 %.1f min", res.Scenarios, res.P95DelayMinutes),
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Delay (min)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Scenarios"}),
	)
	data := make([]opts.BarData, len(counts))
	for i, c := range counts {
		data[i] = opts.BarData{Value: c}
	}
	bar.SetXAxis(labels).AddSeries("Scenarios", data)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		return "", fmt.Errorf("failed to render chart: %v", err)
	}
	return buf.String(), nil
}

// histogram buckets samples into equal-width bins between their min and max.
func histogram(samples []float64, bins int) ([]string, []int) {
	lo, hi := samples[0], samples[0]
	for _, s := range samples[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	width := (hi - lo) / float64(bins)
	if width == 0 {
		return []string{fmt.Sprintf("%.1f", lo)}, []int{len(samples)}
	}
	counts := make([]int, bins)
	for _, s := range samples {
		i := int((s - lo) / width)
		if i >= bins {
			i = bins - 1
		}
		counts[i]++
	}
	labels := make([]string, bins)
	for i := range labels {
		labels[i] = fmt.Sprintf("%.1f-%.1f", lo+float64(i)*width, lo+float64(i+1)*width)
	}
	return labels, counts
}

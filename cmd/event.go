package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/clinicflow/core/model"
	"github.com/kilianp07/clinicflow/infra/logger"
	"github.com/kilianp07/clinicflow/infra/mqtt"
)

var (
	evPatient  string
	evDoctor   string
	evDelay    float64
	evMinutes  float64
	evPriority string
	evReason   string
)

var eventCmd = &cobra.Command{
	Use:   "event <type>",
	Short: "Publish a scheduler event to the configured broker",
	Long: "Publishes one event on the doctor's events topic. Types: patient_arrival, " +
		"traffic_update, emergency_insert, consultation_start, consultation_end, no_show.",
	Args: cobra.ExactArgs(1),
	RunE: publishEvent,
}

func init() {
	f := eventCmd.Flags()
	f.StringVarP(&evPatient, "patient", "p", "", "patient id")
	f.StringVar(&evDoctor, "doctor", "", "doctor id (default from config)")
	f.Float64Var(&evDelay, "delay", 0, "traffic delay in minutes")
	f.Float64Var(&evMinutes, "minutes", 0, "estimated or actual consultation minutes")
	f.StringVar(&evPriority, "priority", string(model.PriorityEmergency), "priority of an inserted patient")
	f.StringVar(&evReason, "reason", "", "reason code of an inserted patient")
	rootCmd.AddCommand(eventCmd)
}

func buildEvent(kind string, now time.Time) (model.SchedulerEvent, error) {
	ev := model.NewEvent(model.EventType(kind), evPatient, now)
	switch ev.Type {
	case model.EventPatientArrival:
		ev.ArrivalTime = now
	case model.EventTrafficUpdate:
		ev.DelayMinutes = evDelay
	case model.EventConsultationStart:
		ev.EstimatedDurationMinutes = evMinutes
	case model.EventConsultationEnd:
		ev.ActualDurationMinutes = evMinutes
	case model.EventEmergencyInsert:
		prio, err := model.ParsePriority(evPriority)
		if err != nil {
			return ev, err
		}
		ev.Patient = &model.Patient{ID: evPatient, Priority: prio, ReasonCode: evReason, ScheduledTime: now}
	}
	return ev, nil
}

func publishEvent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.MQTT.Enabled() {
		return fmt.Errorf("mqtt broker is not configured")
	}
	ev, err := buildEvent(args[0], time.Now())
	if err != nil {
		return err
	}
	payload, err := mqtt.EncodeEvent(ev)
	if err != nil {
		return err
	}

	mqttCfg := cfg.MQTT
	mqttCfg.ClientID = fmt.Sprintf("%s-event-%d", mqttCfg.ClientID, time.Now().UnixNano())
	client, err := mqtt.NewClient(mqttCfg, logger.New("event-command"), nil)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer client.Disconnect()

	doctor := evDoctor
	if doctor == "" {
		doctor = cfg.Clinic.DoctorID
	}
	topic := mqtt.EventsTopic(mqttCfg.TopicPrefix, doctor)
	if err := client.Publish(topic, mqttCfg.QoS["events"], false, payload); err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), ev.ID)
	return err
}

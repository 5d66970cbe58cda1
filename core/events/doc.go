// Package events defines the notifications emitted by the scheduler engine
// on the event bus.
//
// Available event types:
//   - ScheduleUpdated: a new schedule replaced the previous one
//   - EventProcessed: a scheduler event was applied to the state
//   - EngineError: a batch failed and was skipped
package events

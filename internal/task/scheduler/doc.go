// Package scheduler registers cron triggers and hands every fire to the task
// engine.
//
// The scheduler is responsible only for:
//   - registering triggers (upsert by name)
//   - computing next trigger times
//   - enqueueing tasks into the task engine
package scheduler

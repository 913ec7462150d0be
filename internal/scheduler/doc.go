// Package scheduler hosts cron timers for jobs.
//
// It is trigger-only. The scheduler is responsible for:
//   - validating and registering cron specs
//   - firing the registered func on schedule
//   - reporting next/previous fire times
//
// Execution, overlap control and completion belong to the job package.
package scheduler

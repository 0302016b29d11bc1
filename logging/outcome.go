package logging

import "fmt"

// Outcome classifies the result of an action for action→outcome log
// messages, e.g. "writing 3 metrics -> SUCCESS".
type Outcome string

// Outcome values.
const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
)

// ActionOutcome formats an action and its outcome as a single log message.
//
// Used on write paths so that success and failure records share a common,
// greppable shape:
//
//	log.Info(logging.ActionOutcome("writing 3 metrics to influxdb", logging.OutcomeSuccess))
func ActionOutcome(action string, outcome Outcome) string {
	return fmt.Sprintf("%s -> %s", action, outcome)
}

// Package notify publishes task outcome events to interested components.
//
// The polling loop emits an OutcomeEvent when it observes a task reach a
// terminal status. Handlers subscribe without the loop knowing who they are,
// which keeps downstream reactions (logging, webhooks, metrics) decoupled
// from the lifecycle machinery.
package notify

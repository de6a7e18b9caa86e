// Package control implements the operator commands shared by the HTTP API and
// the CLI: order intake, manual task enqueue, starting and stopping analysis,
// live recording control and the reconcile sweep.
package control

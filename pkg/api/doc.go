// Package api implements the submission API: the HTTP surface clients use
// to submit blueprints and observe workflows. It is a thin adaptor over
// pkg/coordinator's Submit/Observe/ListTasks verbs, plus /health, /ready,
// and /metrics for operational use.
package api

// Package log provides the engine's zerolog setup: a global Logger
// configured once via Init, and WithComponent/WithWorkflowID/WithTaskID
// helpers for attaching scoped fields to child loggers.
package log

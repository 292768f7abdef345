// Package types defines the core data model shared across the engine:
// Blueprint/DockerInfo (the submitted DAG and its endpoint mapping),
// Workflow and Task (persisted run state), DataReference (the envelope
// carried between tasks), and ErrorInfo (the serialized error taxonomy).
package types

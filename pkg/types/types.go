package types

import (
	"strconv"
	"time"
)

// WorkflowStatus represents the lifecycle state of a submitted workflow.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowComplete  WorkflowStatus = "complete"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// TaskStatus represents the state of a single task in its DAG-driven state machine.
type TaskStatus string

const (
	TaskPending       TaskStatus = "pending"
	TaskReady         TaskStatus = "ready"
	TaskRunningRemote TaskStatus = "running_remote"
	TaskComplete      TaskStatus = "complete"
	TaskFailed        TaskStatus = "failed"
)

// NodeKey identifies a DAG vertex: one operation offered by one container.
type NodeKey struct {
	Container string `json:"container_name"`
	Operation string `json:"operation_name"`
}

// String renders the node key for logging. Ordering uses Less, not this string.
func (k NodeKey) String() string {
	return k.Container + "/" + k.Operation
}

// Less implements the lexicographic ordering used to break simultaneous-ready ties.
func (k NodeKey) Less(other NodeKey) bool {
	if k.Container != other.Container {
		return k.Container < other.Container
	}
	return k.Operation < other.Operation
}

// DataReference is an opaque artifact locator. The engine never inspects the
// referenced payload, only carries it from an upstream output to downstream inputs.
type DataReference struct {
	Protocol string `json:"protocol"`
	URI      string `json:"uri"`
	Format   string `json:"format"`
}

// ErrorInfo records a task's terminal failure, verbatim for service-reported errors.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ClaimToken reserves a ready task for one worker for a bounded duration.
type ClaimToken struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Task is one node-operation invocation within one workflow.
type Task struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	NodeKey      NodeKey         `json:"node_key"`
	Upstream     []NodeKey       `json:"upstream"`
	Status       TaskStatus      `json:"status"`
	Attempts     int             `json:"attempts"`
	LastError    *ErrorInfo      `json:"last_error,omitempty"`
	Inputs       []DataReference `json:"inputs"`
	Output       *DataReference  `json:"output,omitempty"`
	Claim        *ClaimToken     `json:"claim,omitempty"`
	RemoteTaskID string          `json:"remote_task_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Ready reports whether every predecessor output has been resolved into Inputs.
func (t *Task) Ready() bool {
	return len(t.Inputs) >= len(t.Upstream)
}

// Workflow is a submitted pipeline instance.
type Workflow struct {
	ID         string          `json:"id"`
	Blueprint  *Blueprint      `json:"blueprint"`
	DockerInfo *DockerInfo     `json:"dockerinfo"`
	Inputs     []DataReference `json:"inputs"`
	Status     WorkflowStatus  `json:"status"`
	TaskIDs    []string        `json:"task_ids"`
	Error      *ErrorInfo      `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	TerminalAt *time.Time      `json:"terminal_at,omitempty"`
}

// OperationSignature declares one operation's message shapes.
type OperationSignature struct {
	OperationName     string `json:"operation_name" yaml:"operation_name"`
	InputMessageName  string `json:"input_message_name" yaml:"input_message_name"`
	OutputMessageName string `json:"output_message_name" yaml:"output_message_name"`
}

// Connection names a downstream (container, operation) pair fed by an operation's output.
type Connection struct {
	ContainerName      string              `json:"container_name" yaml:"container_name"`
	OperationSignature OperationSignature `json:"operation_signature" yaml:"operation_signature"`
}

// OperationSignatureEntry is one operation a container offers, with its outgoing edges.
type OperationSignatureEntry struct {
	OperationSignature OperationSignature `json:"operation_signature" yaml:"operation_signature"`
	ConnectedTo        []Connection       `json:"connected_to" yaml:"connected_to"`
}

// BlueprintNode is one container and the operations it exposes.
type BlueprintNode struct {
	ContainerName          string                    `json:"container_name" yaml:"container_name"`
	OperationSignatureList []OperationSignatureEntry `json:"operation_signature_list" yaml:"operation_signature_list"`
}

// Blueprint is the submitted declarative DAG of service operations.
type Blueprint struct {
	Name       string          `json:"name" yaml:"name"`
	PipelineID string          `json:"pipeline_id" yaml:"pipeline_id"`
	Version    string          `json:"version" yaml:"version"`
	Nodes      []BlueprintNode `json:"nodes" yaml:"nodes"`
}

// DockerInfoEntry maps one container name to its resolved network endpoint.
type DockerInfoEntry struct {
	ContainerName string `json:"container_name" yaml:"container_name"`
	IPAddress     string `json:"ip_address" yaml:"ip_address"`
	Port          int    `json:"port" yaml:"port"`
}

// DockerInfo is the full container-name-to-endpoint mapping for a workflow.
type DockerInfo struct {
	DockerInfoList []DockerInfoEntry `json:"docker_info_list" yaml:"docker_info_list"`
}

// Endpoint resolves a container's base URL, or "" if the container is unknown.
func (d *DockerInfo) Endpoint(containerName string) string {
	for _, e := range d.DockerInfoList {
		if e.ContainerName == containerName {
			return "http://" + e.IPAddress + ":" + strconv.Itoa(e.Port)
		}
	}
	return ""
}

package runtime

import (
	"strings"

	"github.com/google/uuid"
)

// Well-known execution context keys. The file-list aliases are
// historical: older flow definitions wrote their file lists under
// different names, and all of them must be honored when reading
// "files to process".
const (
	KeyFilesToProcess       = "filesToProcess"
	KeySenderFiles          = "senderFiles"
	KeyFoundFiles           = "foundFiles"
	KeySenderProcessedFiles = "senderProcessedFiles"
	KeyProcessedFiles       = "processedFiles"
	KeyReceiverFiles        = "receiverFiles"

	KeyCorrelationID = "correlationId"
	KeyMessageID     = "messageId"
	KeyExecutionID   = "executionId"
	KeyFlowID        = "flowId"
	KeyFlowName      = "flowName"
	KeyDeploymentID  = "deploymentId"
	KeyTriggerType   = "triggerType"
	KeyTriggerData   = "triggerData"
	KeyRetryPolicy   = "retryPolicy"
)

// fileListAliases are every key under which a file list may appear,
// in the order they are unioned by ExtractFilesToProcess.
var fileListAliases = []string{
	KeyFilesToProcess,
	KeySenderFiles,
	KeyFoundFiles,
	KeySenderProcessedFiles,
}

// ContextManager builds, isolates and sanitizes the mutable key/value
// state threaded through a flow execution.
type ContextManager struct{}

// NewContextManager creates a new context manager
func NewContextManager() *ContextManager {
	return &ContextManager{}
}

// CreateExecutionContext flat-merges the trigger payload and the base
// context into one map. Later entries win on key collision, so base
// context values override payload values.
func (m *ContextManager) CreateExecutionContext(payload, base map[string]interface{}) map[string]interface{} {
	execCtx := make(map[string]interface{}, len(payload)+len(base))
	for key, value := range payload {
		execCtx[key] = value
	}
	for key, value := range base {
		execCtx[key] = value
	}
	return execCtx
}

// CorrelationContext carries the ambient identifiers of one execution.
// It is an explicit value so it survives being handed to worker
// goroutines, instead of living in goroutine-local state.
type CorrelationContext struct {
	CorrelationID string
	MessageID     string
	ExecutionID   string
	FlowID        string
	FlowName      string
}

// RestoreCorrelationContext re-hydrates the correlation identifiers from
// an execution context for asynchronous continuation. Missing
// correlation and message ids are generated fresh rather than failing.
func (m *ContextManager) RestoreCorrelationContext(execCtx map[string]interface{}) CorrelationContext {
	cc := CorrelationContext{
		CorrelationID: stringValue(execCtx, KeyCorrelationID),
		MessageID:     stringValue(execCtx, KeyMessageID),
		ExecutionID:   stringValue(execCtx, KeyExecutionID),
		FlowID:        stringValue(execCtx, KeyFlowID),
		FlowName:      stringValue(execCtx, KeyFlowName),
	}
	if cc.CorrelationID == "" {
		cc.CorrelationID = uuid.New().String()
	}
	if cc.MessageID == "" {
		cc.MessageID = uuid.New().String()
	}
	return cc
}

// Apply writes the correlation identifiers back into a context map.
func (cc CorrelationContext) Apply(execCtx map[string]interface{}) {
	execCtx[KeyCorrelationID] = cc.CorrelationID
	execCtx[KeyMessageID] = cc.MessageID
	if cc.ExecutionID != "" {
		execCtx[KeyExecutionID] = cc.ExecutionID
	}
	if cc.FlowID != "" {
		execCtx[KeyFlowID] = cc.FlowID
	}
	if cc.FlowName != "" {
		execCtx[KeyFlowName] = cc.FlowName
	}
}

// CreateIsolatedContext returns a shallow copy of the source context,
// giving a parallel-split path its own mutable view.
func (m *ContextManager) CreateIsolatedContext(source map[string]interface{}) map[string]interface{} {
	isolated := make(map[string]interface{}, len(source))
	for key, value := range source {
		isolated[key] = value
	}
	return isolated
}

// CreateContextSnapshot produces a copy of the context safe for
// persistence and monitoring. Any key containing "files"/"Files" is
// reduced to file metadata only, at every nesting level, so file lists
// carried inside nested contexts (parallel-split path copies) are
// sanitized too; raw file bytes are never snapshotted.
func (m *ContextManager) CreateContextSnapshot(execCtx map[string]interface{}) map[string]interface{} {
	snapshot := make(map[string]interface{}, len(execCtx))
	for key, value := range execCtx {
		if strings.Contains(key, "files") || strings.Contains(key, "Files") {
			snapshot[key] = sanitizeFileValue(value)
			continue
		}
		snapshot[key] = snapshotValue(m, value)
	}
	return snapshot
}

// snapshotValue walks nested maps and lists under non-file keys
func snapshotValue(m *ContextManager, value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		return m.CreateContextSnapshot(typed)
	case []interface{}:
		copied := make([]interface{}, 0, len(typed))
		for _, entry := range typed {
			copied = append(copied, snapshotValue(m, entry))
		}
		return copied
	default:
		return value
	}
}

// sanitizeFileValue reduces file entries to their metadata
func sanitizeFileValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case []interface{}:
		sanitized := make([]interface{}, 0, len(typed))
		for _, entry := range typed {
			sanitized = append(sanitized, sanitizeFileValue(entry))
		}
		return sanitized
	case map[string]interface{}:
		metadata := make(map[string]interface{}, 4)
		for _, field := range []string{"name", "path", "size", "lastModified"} {
			if fieldValue, ok := typed[field]; ok {
				metadata[field] = fieldValue
			}
		}
		return metadata
	default:
		return value
	}
}

// ExtractFilesToProcess unions the list values found under every
// file-list alias, concatenating rather than picking one.
func (m *ContextManager) ExtractFilesToProcess(execCtx map[string]interface{}) []interface{} {
	var files []interface{}
	for _, alias := range fileListAliases {
		if list, ok := execCtx[alias].([]interface{}); ok {
			files = append(files, list...)
		}
	}
	return files
}

// AddFilesToContext appends files under the primary filesToProcess key.
func (m *ContextManager) AddFilesToContext(execCtx map[string]interface{}, files []interface{}) {
	if len(files) == 0 {
		return
	}
	existing, _ := execCtx[KeyFilesToProcess].([]interface{})
	execCtx[KeyFilesToProcess] = append(existing, files...)
}

// ExtractTriggerData returns the trigger payload stored in the context,
// reporting absence instead of failing.
func (m *ContextManager) ExtractTriggerData(execCtx map[string]interface{}) (map[string]interface{}, bool) {
	data, ok := execCtx[KeyTriggerData].(map[string]interface{})
	return data, ok
}

// GetDeploymentID returns the deployment id stored in the context,
// reporting absence instead of failing.
func (m *ContextManager) GetDeploymentID(execCtx map[string]interface{}) (string, bool) {
	id := stringValue(execCtx, KeyDeploymentID)
	return id, id != ""
}

// stringValue reads a string-typed context value, tolerating absence
func stringValue(execCtx map[string]interface{}, key string) string {
	value, _ := execCtx[key].(string)
	return value
}

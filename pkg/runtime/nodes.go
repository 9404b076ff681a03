package runtime

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/storage"
)

// NodeHandler executes one pipeline step for a node type
type NodeHandler interface {
	// StepType returns the node type this handler is registered under
	StepType() string

	// CanHandle reports whether this handler accepts the node
	CanHandle(node *models.FlowNode) bool

	// Execute runs the step and returns the node result
	Execute(execution *models.FlowExecution, step *models.FlowExecutionStep, node *models.FlowNode, execCtx map[string]interface{}) (map[string]interface{}, error)
}

// nodeTypeAliases maps legacy node type names onto their handlers
var nodeTypeAliases = map[string]string{
	"start-process": "start",
	"end-process":   "end",
}

// NodeRegistry maps node types to handlers. Lookup order: direct type
// match, then legacy aliases, then a linear CanHandle scan over every
// registered handler.
type NodeRegistry struct {
	ordered []NodeHandler
	byType  map[string]NodeHandler
}

// NewNodeRegistry creates a registry from an ordered handler list
func NewNodeRegistry(handlers ...NodeHandler) *NodeRegistry {
	registry := &NodeRegistry{
		byType: make(map[string]NodeHandler, len(handlers)),
	}
	for _, handler := range handlers {
		registry.ordered = append(registry.ordered, handler)
		registry.byType[handler.StepType()] = handler
	}
	return registry
}

// Resolve finds the handler for a node.
func (r *NodeRegistry) Resolve(node *models.FlowNode) (NodeHandler, error) {
	if handler, ok := r.byType[node.Type]; ok && handler.CanHandle(node) {
		return handler, nil
	}
	if target, ok := nodeTypeAliases[node.Type]; ok {
		if handler, ok := r.byType[target]; ok && handler.CanHandle(node) {
			return handler, nil
		}
	}
	for _, handler := range r.ordered {
		if handler.CanHandle(node) {
			return handler, nil
		}
	}
	return nil, fmt.Errorf("no command found for node type %q", node.Type)
}

// NodeDeps carries the collaborators the built-in handlers need
type NodeDeps struct {
	Contexts       *ContextManager
	Adapters       storage.AdapterStore
	AdapterService AdapterService
	UtilityService UtilityService
}

// CoreNodeHandlers returns the built-in handler table in registration
// order. The custom handler is last: its CanHandle accepts anything, so
// unknown node types fall through to a no-op instead of failing, which
// keeps forward-compatible flow definitions runnable.
func CoreNodeHandlers(deps NodeDeps) []NodeHandler {
	return []NodeHandler{
		&StartHandler{contexts: deps.Contexts},
		&EndHandler{contexts: deps.Contexts},
		&MessageEndHandler{contexts: deps.Contexts, adapters: deps.Adapters, adapterService: deps.AdapterService},
		&AdapterHandler{adapters: deps.Adapters, adapterService: deps.AdapterService},
		&UtilityHandler{utilityService: deps.UtilityService},
		&DecisionHandler{},
		&ParallelSplitHandler{contexts: deps.Contexts},
		&CustomHandler{},
	}
}

// StartHandler initializes execution-scoped bookkeeping and copies the
// trigger payload into the context.
type StartHandler struct {
	contexts *ContextManager
}

// StepType returns the node type
func (h *StartHandler) StepType() string { return "start" }

// CanHandle accepts start nodes
func (h *StartHandler) CanHandle(node *models.FlowNode) bool {
	return node.Type == "start" || node.Type == "start-process"
}

// Execute runs the start node
func (h *StartHandler) Execute(execution *models.FlowExecution, step *models.FlowExecutionStep, node *models.FlowNode, execCtx map[string]interface{}) (map[string]interface{}, error) {
	execCtx["executionStartTime"] = time.Now().Format(time.RFC3339)

	if trigger, ok := h.contexts.ExtractTriggerData(execCtx); ok {
		for key, value := range trigger {
			execCtx[key] = value
		}
	}

	return map[string]interface{}{"status": "started"}, nil
}

// EndHandler is pure flow control: it collects the files to process and
// republishes them under receiverFiles for downstream adapter nodes. It
// never invokes an adapter itself.
type EndHandler struct {
	contexts *ContextManager
}

// StepType returns the node type
func (h *EndHandler) StepType() string { return "end" }

// CanHandle accepts end nodes
func (h *EndHandler) CanHandle(node *models.FlowNode) bool {
	return node.Type == "end" || node.Type == "end-process"
}

// Execute runs the end node
func (h *EndHandler) Execute(execution *models.FlowExecution, step *models.FlowExecutionStep, node *models.FlowNode, execCtx map[string]interface{}) (map[string]interface{}, error) {
	files := h.contexts.ExtractFilesToProcess(execCtx)
	execCtx[KeyReceiverFiles] = files

	return map[string]interface{}{
		KeyReceiverFiles: files,
		"fileCount":      len(files),
	}, nil
}

// MessageEndHandler behaves like end, and additionally executes a
// configured receiver adapter with message-event metadata when the node
// names an adapter and a deployment context is available.
type MessageEndHandler struct {
	contexts       *ContextManager
	adapters       storage.AdapterStore
	adapterService AdapterService
}

// StepType returns the node type
func (h *MessageEndHandler) StepType() string { return "messageEnd" }

// CanHandle accepts messageEnd nodes
func (h *MessageEndHandler) CanHandle(node *models.FlowNode) bool {
	return node.Type == "messageEnd"
}

// Execute runs the messageEnd node
func (h *MessageEndHandler) Execute(execution *models.FlowExecution, step *models.FlowExecutionStep, node *models.FlowNode, execCtx map[string]interface{}) (map[string]interface{}, error) {
	files := h.contexts.ExtractFilesToProcess(execCtx)
	execCtx[KeyReceiverFiles] = files

	result := map[string]interface{}{
		KeyReceiverFiles: files,
		"fileCount":      len(files),
	}

	adapterID, _ := node.Config["adapterId"].(string)
	_, hasDeployment := h.contexts.GetDeploymentID(execCtx)
	if adapterID == "" || !hasDeployment {
		return result, nil
	}

	adapter, err := h.adapters.GetAdapter(adapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve message-end adapter %s: %w", adapterID, err)
	}

	eventType, _ := node.Config["eventType"].(string)
	if eventType == "" {
		eventType = "MESSAGE_END"
	}
	execCtx["eventType"] = eventType
	if payload, ok := node.Config["messagePayload"]; ok {
		execCtx["messagePayload"] = payload
	}

	adapterResult, err := h.adapterService.ExecuteAdapter(adapter, execCtx, step)
	if err != nil {
		return nil, fmt.Errorf("message-end adapter %s failed: %w", adapterID, err)
	}
	result["adapterResult"] = adapterResult
	return result, nil
}

// AdapterHandler resolves the referenced adapter and delegates to the
// adapter execution collaborator.
type AdapterHandler struct {
	adapters       storage.AdapterStore
	adapterService AdapterService
}

// StepType returns the node type
func (h *AdapterHandler) StepType() string { return "adapter" }

// CanHandle accepts adapter nodes
func (h *AdapterHandler) CanHandle(node *models.FlowNode) bool {
	if node.Type == "adapter" {
		return true
	}
	_, ok := node.Config["adapterId"]
	return ok && node.Type == ""
}

// Execute runs the adapter node
func (h *AdapterHandler) Execute(execution *models.FlowExecution, step *models.FlowExecutionStep, node *models.FlowNode, execCtx map[string]interface{}) (map[string]interface{}, error) {
	adapterID, _ := node.Config["adapterId"].(string)
	if adapterID == "" {
		return nil, fmt.Errorf("adapter node %s has no adapterId configured", node.ID)
	}

	adapter, err := h.adapters.GetAdapter(adapterID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve adapter %s: %w", adapterID, err)
	}

	execCtx["nodeId"] = node.ID
	execCtx["stepId"] = step.ID

	return h.adapterService.ExecuteAdapter(adapter, execCtx, step)
}

// UtilityHandler resolves a utility type and delegates to the matching
// utility processor.
type UtilityHandler struct {
	utilityService UtilityService
}

// StepType returns the node type
func (h *UtilityHandler) StepType() string { return "utility" }

// CanHandle accepts utility nodes
func (h *UtilityHandler) CanHandle(node *models.FlowNode) bool {
	if node.Type == "utility" {
		return true
	}
	_, ok := node.Config["utilityType"]
	return ok && node.Type == ""
}

// Execute runs the utility node
func (h *UtilityHandler) Execute(execution *models.FlowExecution, step *models.FlowExecutionStep, node *models.FlowNode, execCtx map[string]interface{}) (map[string]interface{}, error) {
	utilityType, _ := node.Config["utilityType"].(string)
	if utilityType == "" {
		return nil, fmt.Errorf("utility node %s has no utilityType configured", node.ID)
	}
	return h.utilityService.ExecuteUtility(utilityType, node.Config, execCtx, step)
}

// DecisionHandler evaluates an ordered list of named conditions against
// the context. The first condition that evaluates true wins; when none
// match, the result path is "default".
type DecisionHandler struct{}

// StepType returns the node type
func (h *DecisionHandler) StepType() string { return "decision" }

// CanHandle accepts decision nodes
func (h *DecisionHandler) CanHandle(node *models.FlowNode) bool {
	return node.Type == "decision"
}

// Execute runs the decision node
func (h *DecisionHandler) Execute(execution *models.FlowExecution, step *models.FlowExecutionStep, node *models.FlowNode, execCtx map[string]interface{}) (map[string]interface{}, error) {
	conditions, _ := node.Config["conditions"].([]interface{})

	path := "default"
	for _, raw := range conditions {
		condition, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if evaluateCondition(condition, execCtx) {
			if name, ok := condition["name"].(string); ok && name != "" {
				path = name
			}
			break
		}
	}

	execCtx["decisionPath"] = path
	return map[string]interface{}{"resultPath": path}, nil
}

// evaluateCondition applies one {field, operator, value} condition
func evaluateCondition(condition, execCtx map[string]interface{}) bool {
	field, _ := condition["field"].(string)
	operator, _ := condition["operator"].(string)
	expected := condition["value"]
	actual, present := execCtx[field]

	switch operator {
	case "exists":
		return present
	case "not_exists":
		return !present
	case "equals":
		return valuesEqual(actual, expected)
	case "not_equals":
		return !valuesEqual(actual, expected)
	case "contains":
		return strings.Contains(stringForm(actual), stringForm(expected))
	case "greater_than":
		return compareNumeric(actual, expected) > 0
	case "less_than":
		return compareNumeric(actual, expected) < 0
	default:
		return false
	}
}

// valuesEqual compares numerically when both sides parse as numbers,
// otherwise on their string forms.
func valuesEqual(actual, expected interface{}) bool {
	actualNum, actualOK := parseNumber(actual)
	expectedNum, expectedOK := parseNumber(expected)
	if actualOK && expectedOK {
		return actualNum == expectedNum
	}
	return stringForm(actual) == stringForm(expected)
}

// compareNumeric orders two values numerically. Non-numeric
// comparisons yield "equal", so greater_than and less_than conditions
// on non-numeric values never match.
func compareNumeric(actual, expected interface{}) int {
	actualNum, actualOK := parseNumber(actual)
	expectedNum, expectedOK := parseNumber(expected)
	if !actualOK || !expectedOK {
		return 0
	}
	switch {
	case actualNum < expectedNum:
		return -1
	case actualNum > expectedNum:
		return 1
	default:
		return 0
	}
}

// parseNumber parses any numeric or numeric-string value
func parseNumber(value interface{}) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// stringForm renders a context value for string comparisons
func stringForm(value interface{}) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// ParallelSplitHandler prepares an isolated context copy per declared
// path. It does not fork goroutines or wait for completion: true
// parallel dispatch belongs to a layer above this core.
type ParallelSplitHandler struct {
	contexts *ContextManager
}

// KeySplitContexts is where the per-path context copies are stored
const KeySplitContexts = "_splitContexts"

// StepType returns the node type
func (h *ParallelSplitHandler) StepType() string { return "parallelSplit" }

// CanHandle accepts parallelSplit nodes
func (h *ParallelSplitHandler) CanHandle(node *models.FlowNode) bool {
	return node.Type == "parallelSplit"
}

// Execute runs the parallelSplit node
func (h *ParallelSplitHandler) Execute(execution *models.FlowExecution, step *models.FlowExecutionStep, node *models.FlowNode, execCtx map[string]interface{}) (map[string]interface{}, error) {
	rawPaths, _ := node.Config["paths"].([]interface{})

	splitContexts := make(map[string]interface{}, len(rawPaths))
	paths := make([]interface{}, 0, len(rawPaths))
	for _, raw := range rawPaths {
		path, ok := raw.(string)
		if !ok || path == "" {
			continue
		}
		isolated := h.contexts.CreateIsolatedContext(execCtx)
		isolated["splitPath"] = path
		delete(isolated, KeySplitContexts)
		splitContexts[path] = isolated
		paths = append(paths, path)
	}

	execCtx[KeySplitContexts] = splitContexts
	return map[string]interface{}{
		"paths":     paths,
		"pathCount": len(paths),
	}, nil
}

// CustomHandler is the no-op fallback for unknown node types. It
// accepts anything, so it must be registered last.
type CustomHandler struct{}

// StepType returns the node type
func (h *CustomHandler) StepType() string { return "custom" }

// CanHandle accepts every node
func (h *CustomHandler) CanHandle(node *models.FlowNode) bool { return true }

// Execute completes without doing any work
func (h *CustomHandler) Execute(execution *models.FlowExecution, step *models.FlowExecutionStep, node *models.FlowNode, execCtx map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"status":   "completed",
		"nodeType": node.Type,
	}, nil
}

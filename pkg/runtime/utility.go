package runtime

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

// Utility type prefixes routed by the UtilityRouter
const (
	UtilityFamilyPGP  = "pgp"
	UtilityFamilyZIP  = "zip"
	UtilityFamilyFile = "file"
	UtilityFamilyData = "data"
)

// UtilityRouter routes utility execution by the type prefix. A utility
// type like "pgp-encrypt" is served by the processor registered for the
// "pgp" family. Families without a registered processor are a
// configuration error at execution time.
type UtilityRouter struct {
	processors map[string]UtilityService
}

// NewUtilityRouter creates a router with no processors registered
func NewUtilityRouter() *UtilityRouter {
	return &UtilityRouter{
		processors: make(map[string]UtilityService),
	}
}

// Register binds a processor to a utility family prefix
func (r *UtilityRouter) Register(family string, processor UtilityService) {
	r.processors[strings.ToLower(family)] = processor
}

// ExecuteUtility routes to the processor for the utility type's family
func (r *UtilityRouter) ExecuteUtility(utilityType string, config map[string]interface{}, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error) {
	family := utilityFamily(utilityType)
	processor, ok := r.processors[family]
	if !ok {
		return nil, fmt.Errorf("no utility processor registered for type %q", utilityType)
	}
	return processor.ExecuteUtility(utilityType, config, execCtx, step)
}

// utilityFamily extracts the routing prefix from a utility type
func utilityFamily(utilityType string) string {
	lowered := strings.ToLower(utilityType)
	if idx := strings.IndexAny(lowered, "-_."); idx > 0 {
		return lowered[:idx]
	}
	return lowered
}

// DataTransformProcessor executes JavaScript transform scripts for the
// "data" utility family. The script sees the execution context as
// `context` and the node configuration as `config`, and its return
// value becomes the step result.
type DataTransformProcessor struct {
	contexts *ContextManager
}

// NewDataTransformProcessor creates a new data transform processor
func NewDataTransformProcessor(contexts *ContextManager) *DataTransformProcessor {
	return &DataTransformProcessor{contexts: contexts}
}

// ExecuteUtility runs the configured transform script
func (p *DataTransformProcessor) ExecuteUtility(utilityType string, config map[string]interface{}, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error) {
	script, ok := config["script"].(string)
	if !ok || script == "" {
		return nil, fmt.Errorf("data transform requires a script parameter")
	}

	vm := goja.New()
	if err := vm.Set("context", execCtx); err != nil {
		return nil, fmt.Errorf("failed to bind context: %w", err)
	}
	if err := vm.Set("config", config); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	// Wrap the script in a function so it can use return statements
	wrapped := "(function() {\n" + script + "\n})()"
	value, err := vm.RunString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transform script: %w", err)
	}

	exported := value.Export()
	if exported == nil {
		return map[string]interface{}{}, nil
	}
	result, ok := exported.(map[string]interface{})
	if !ok {
		return map[string]interface{}{"value": exported}, nil
	}

	// Merge transformed values back into the shared context so
	// downstream steps see them.
	for key, entry := range result {
		execCtx[key] = entry
	}
	return result, nil
}

package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

func TestUtilityRouter(t *testing.T) {
	router := NewUtilityRouter()

	var seenType string
	router.Register(UtilityFamilyData, utilityServiceFunc(func(utilityType string, config map[string]interface{}, execCtx map[string]interface{}, step *models.FlowExecutionStep) (map[string]interface{}, error) {
		seenType = utilityType
		return map[string]interface{}{"status": "completed"}, nil
	}))

	t.Run("routes by the type prefix", func(t *testing.T) {
		for _, utilityType := range []string{"data-csv-to-json", "data_merge", "Data.flatten", "data"} {
			_, err := router.ExecuteUtility(utilityType, nil, map[string]interface{}{}, nil)
			require.NoError(t, err, utilityType)
			assert.Equal(t, utilityType, seenType)
		}
	})

	t.Run("unregistered family is an error", func(t *testing.T) {
		_, err := router.ExecuteUtility("pgp-encrypt", nil, map[string]interface{}{}, nil)
		assert.Error(t, err)
	})
}

func TestDataTransformProcessor(t *testing.T) {
	processor := NewDataTransformProcessor(NewContextManager())

	t.Run("script output merges into the context", func(t *testing.T) {
		execCtx := map[string]interface{}{"amount": 100}
		result, err := processor.ExecuteUtility("data-transform", map[string]interface{}{
			"script": `return { doubled: context.amount * 2, label: "processed" };`,
		}, execCtx, &models.FlowExecutionStep{ID: "step-1"})
		require.NoError(t, err)

		assert.EqualValues(t, 200, result["doubled"])
		assert.Equal(t, "processed", result["label"])
		assert.EqualValues(t, 200, execCtx["doubled"], "downstream steps see the transform output")
	})

	t.Run("script reads the node config", func(t *testing.T) {
		result, err := processor.ExecuteUtility("data-transform", map[string]interface{}{
			"script": `return { factor: config.factor };`,
			"factor": 3,
		}, map[string]interface{}{}, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 3, result["factor"])
	})

	t.Run("scalar return is wrapped", func(t *testing.T) {
		result, err := processor.ExecuteUtility("data-transform", map[string]interface{}{
			"script": `return 7;`,
		}, map[string]interface{}{}, nil)
		require.NoError(t, err)
		assert.EqualValues(t, 7, result["value"])
	})

	t.Run("no return yields an empty result", func(t *testing.T) {
		result, err := processor.ExecuteUtility("data-transform", map[string]interface{}{
			"script": `var unused = 1;`,
		}, map[string]interface{}{}, nil)
		require.NoError(t, err)
		assert.Empty(t, result)
	})

	t.Run("missing script is an error", func(t *testing.T) {
		_, err := processor.ExecuteUtility("data-transform", map[string]interface{}{}, map[string]interface{}{}, nil)
		assert.Error(t, err)
	})

	t.Run("script errors surface", func(t *testing.T) {
		_, err := processor.ExecuteUtility("data-transform", map[string]interface{}{
			"script": `throw new Error("bad input");`,
		}, map[string]interface{}{}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad input")
	})
}

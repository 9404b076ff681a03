package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/Integrixs-Host-2-Host-sub001/pkg/models"
)

func TestCreateExecutionContext(t *testing.T) {
	m := NewContextManager()

	t.Run("base values win over payload values", func(t *testing.T) {
		execCtx := m.CreateExecutionContext(
			map[string]interface{}{"a": 1, KeyFlowID: "payload-flow"},
			map[string]interface{}{KeyFlowID: "real-flow", "b": 2},
		)
		assert.Equal(t, "real-flow", execCtx[KeyFlowID])
		assert.Equal(t, 1, execCtx["a"])
		assert.Equal(t, 2, execCtx["b"])
	})

	t.Run("nil inputs yield an empty context", func(t *testing.T) {
		execCtx := m.CreateExecutionContext(nil, nil)
		assert.NotNil(t, execCtx)
		assert.Empty(t, execCtx)
	})
}

func TestExtractFilesToProcess(t *testing.T) {
	m := NewContextManager()

	t.Run("unions every alias", func(t *testing.T) {
		files := m.ExtractFilesToProcess(map[string]interface{}{
			KeyFoundFiles:  []interface{}{"a.csv"},
			KeySenderFiles: []interface{}{"b.csv"},
		})
		assert.ElementsMatch(t, []interface{}{"a.csv", "b.csv"}, files)
	})

	t.Run("all four aliases contribute", func(t *testing.T) {
		files := m.ExtractFilesToProcess(map[string]interface{}{
			KeyFilesToProcess:       []interface{}{"1"},
			KeySenderFiles:          []interface{}{"2"},
			KeyFoundFiles:           []interface{}{"3"},
			KeySenderProcessedFiles: []interface{}{"4"},
		})
		assert.Len(t, files, 4)
	})

	t.Run("non-list values are ignored", func(t *testing.T) {
		files := m.ExtractFilesToProcess(map[string]interface{}{
			KeyFoundFiles: "not a list",
		})
		assert.Empty(t, files)
	})

	t.Run("empty context yields no files", func(t *testing.T) {
		assert.Empty(t, m.ExtractFilesToProcess(map[string]interface{}{}))
	})
}

func TestAddFilesToContext(t *testing.T) {
	m := NewContextManager()
	execCtx := map[string]interface{}{
		KeyFilesToProcess: []interface{}{"existing.csv"},
	}

	m.AddFilesToContext(execCtx, []interface{}{"new.csv"})

	files, ok := execCtx[KeyFilesToProcess].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"existing.csv", "new.csv"}, files)

	// Adding nothing leaves the context untouched
	m.AddFilesToContext(execCtx, nil)
	assert.Len(t, execCtx[KeyFilesToProcess], 2)
}

func TestCreateIsolatedContext(t *testing.T) {
	m := NewContextManager()
	source := map[string]interface{}{"key": "value"}

	isolated := m.CreateIsolatedContext(source)
	isolated["key"] = "changed"
	isolated["extra"] = true

	assert.Equal(t, "value", source["key"])
	_, exists := source["extra"]
	assert.False(t, exists)
}

func TestCreateContextSnapshot(t *testing.T) {
	m := NewContextManager()

	t.Run("file entries are reduced to metadata", func(t *testing.T) {
		execCtx := map[string]interface{}{
			KeyFoundFiles: []interface{}{
				map[string]interface{}{
					"name":         "report.csv",
					"path":         "/in/report.csv",
					"size":         1024,
					"lastModified": "2026-03-01T10:00:00Z",
					"content":      []byte("raw bytes that must not be persisted"),
				},
			},
			"plainValue": "kept",
		}

		snapshot := m.CreateContextSnapshot(execCtx)

		files, ok := snapshot[KeyFoundFiles].([]interface{})
		require.True(t, ok)
		require.Len(t, files, 1)
		entry, ok := files[0].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "report.csv", entry["name"])
		assert.Equal(t, 1024, entry["size"])
		_, hasContent := entry["content"]
		assert.False(t, hasContent)

		assert.Equal(t, "kept", snapshot["plainValue"])
	})

	t.Run("both capitalizations are sanitized", func(t *testing.T) {
		execCtx := map[string]interface{}{
			"receiverFiles": []interface{}{
				map[string]interface{}{"name": "a", "payload": "x"},
			},
			"processedFiles": []interface{}{
				map[string]interface{}{"name": "b", "payload": "y"},
			},
		}
		snapshot := m.CreateContextSnapshot(execCtx)
		for _, key := range []string{"receiverFiles", "processedFiles"} {
			files := snapshot[key].([]interface{})
			entry := files[0].(map[string]interface{})
			_, hasPayload := entry["payload"]
			assert.False(t, hasPayload, "key %s kept its payload", key)
		}
	})

	t.Run("file lists inside split-path contexts are sanitized", func(t *testing.T) {
		execCtx := map[string]interface{}{
			KeyFilesToProcess: []interface{}{
				map[string]interface{}{"name": "report.csv", "size": 1024, "content": "raw file bytes"},
			},
		}

		split := &ParallelSplitHandler{contexts: m}
		_, err := split.Execute(nil, nil, &models.FlowNode{
			ID:     "n-split",
			Type:   "parallelSplit",
			Config: map[string]interface{}{"paths": []interface{}{"p1"}},
		}, execCtx)
		require.NoError(t, err)

		snapshot := m.CreateContextSnapshot(execCtx)

		splitContexts, ok := snapshot[KeySplitContexts].(map[string]interface{})
		require.True(t, ok)
		pathCtx, ok := splitContexts["p1"].(map[string]interface{})
		require.True(t, ok)
		files, ok := pathCtx[KeyFilesToProcess].([]interface{})
		require.True(t, ok)
		require.Len(t, files, 1)
		entry := files[0].(map[string]interface{})
		assert.Equal(t, "report.csv", entry["name"])
		_, hasContent := entry["content"]
		assert.False(t, hasContent)
	})

	t.Run("scalar file values pass through", func(t *testing.T) {
		snapshot := m.CreateContextSnapshot(map[string]interface{}{
			"fileCount": 3,
			"xFilesY":   "string value",
		})
		assert.Equal(t, "string value", snapshot["xFilesY"])
	})
}

func TestRestoreCorrelationContext(t *testing.T) {
	m := NewContextManager()

	t.Run("round-trips existing identifiers", func(t *testing.T) {
		cc := m.RestoreCorrelationContext(map[string]interface{}{
			KeyCorrelationID: "corr-1",
			KeyMessageID:     "msg-1",
			KeyExecutionID:   "exec-1",
			KeyFlowID:        "flow-1",
			KeyFlowName:      "Nightly transfer",
		})
		assert.Equal(t, "corr-1", cc.CorrelationID)
		assert.Equal(t, "msg-1", cc.MessageID)
		assert.Equal(t, "exec-1", cc.ExecutionID)
		assert.Equal(t, "flow-1", cc.FlowID)
		assert.Equal(t, "Nightly transfer", cc.FlowName)
	})

	t.Run("generates missing ids instead of failing", func(t *testing.T) {
		cc := m.RestoreCorrelationContext(map[string]interface{}{})
		assert.NotEmpty(t, cc.CorrelationID)
		assert.NotEmpty(t, cc.MessageID)
		assert.Empty(t, cc.ExecutionID)
	})

	t.Run("apply writes identifiers back", func(t *testing.T) {
		cc := CorrelationContext{
			CorrelationID: "corr-1",
			MessageID:     "msg-1",
			ExecutionID:   "exec-1",
		}
		execCtx := map[string]interface{}{}
		cc.Apply(execCtx)
		assert.Equal(t, "corr-1", execCtx[KeyCorrelationID])
		assert.Equal(t, "msg-1", execCtx[KeyMessageID])
		assert.Equal(t, "exec-1", execCtx[KeyExecutionID])
		_, hasFlow := execCtx[KeyFlowID]
		assert.False(t, hasFlow)
	})
}

func TestGetDeploymentID(t *testing.T) {
	m := NewContextManager()

	id, ok := m.GetDeploymentID(map[string]interface{}{KeyDeploymentID: "dep-1"})
	assert.True(t, ok)
	assert.Equal(t, "dep-1", id)

	_, ok = m.GetDeploymentID(map[string]interface{}{})
	assert.False(t, ok)
}

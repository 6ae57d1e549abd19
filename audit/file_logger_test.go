package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileLogger(t *testing.T) *FileLogger {
	t.Helper()
	logger, err := NewLogger(&Config{
		Enabled:  true,
		ClientID: "gatehouse-app",
		Type:     FileAuditType,
		Options: map[string]interface{}{
			"file_path": filepath.Join(t.TempDir(), "audit", "audit.log"),
		},
	})
	require.NoError(t, err)
	fl, ok := logger.(*FileLogger)
	require.True(t, ok, "expected *FileLogger, got %T", logger)
	t.Cleanup(func() { _ = fl.Close() })
	return fl
}

func TestNewLoggerSelectsImplementation(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.IsType(t, &NoOpLogger{}, logger)

	logger, err = NewLogger(&Config{Enabled: false, Type: FileAuditType})
	require.NoError(t, err)
	assert.IsType(t, &NoOpLogger{}, logger)

	_, err = NewLogger(&Config{Enabled: true, Type: "kafka"})
	assert.Error(t, err)

	_, err = NewLogger(&Config{Enabled: true, Type: FileAuditType})
	assert.Error(t, err, "file logger needs a file_path")
}

func TestFileLoggerLogAndQuery(t *testing.T) {
	fl := newTestFileLogger(t)

	require.NoError(t, fl.Log(ActionEnvelopeSeal, true, map[string]interface{}{
		"request_id": "req-1",
		"key_alg":    "RSA-OAEP-256",
		"data_size":  42,
	}))
	require.NoError(t, fl.Log(ActionEnvelopeOpen, false, map[string]interface{}{
		"request_id": "req-2",
		"error":      "integrity",
	}))
	require.NoError(t, fl.Log(ActionEnvelopeSeal, true, map[string]interface{}{
		"request_id": "req-3",
		"key_alg":    "AES-KWP",
	}))

	t.Run("AllFromFile", func(t *testing.T) {
		result, err := fl.Query(QueryOptions{})
		require.NoError(t, err)
		assert.Equal(t, 3, result.TotalCount)
		assert.Equal(t, 3, result.Filtered)
		assert.Equal(t, "gatehouse-app", result.Events[0].ClientID)
	})

	t.Run("ByAction", func(t *testing.T) {
		result, err := fl.Query(QueryOptions{Action: ActionEnvelopeSeal})
		require.NoError(t, err)
		assert.Len(t, result.Events, 2)
	})

	t.Run("FailuresOnly", func(t *testing.T) {
		failed := false
		result, err := fl.Query(QueryOptions{Success: &failed})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, "req-2", result.Events[0].RequestID)
		assert.Equal(t, "integrity", result.Events[0].Error)
	})

	t.Run("ByKeyAlgSince", func(t *testing.T) {
		since := time.Now().Add(-time.Minute)
		result, err := fl.Query(QueryOptions{KeyAlg: "AES-KWP", Since: &since})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, "req-3", result.Events[0].RequestID)
	})

	t.Run("LimitOffset", func(t *testing.T) {
		result, err := fl.Query(QueryOptions{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, result.Events, 2)
		assert.True(t, result.HasMore)

		result, err = fl.Query(QueryOptions{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, result.Events, 1)
		assert.False(t, result.HasMore)
	})
}

func TestFileLoggerReopensAfterClose(t *testing.T) {
	fl := newTestFileLogger(t)

	require.NoError(t, fl.Log(ActionCommandStart, true, nil))
	require.NoError(t, fl.Close())
	require.NoError(t, fl.Log(ActionCommandComplete, true, nil))

	result, err := fl.Query(QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalCount)
}

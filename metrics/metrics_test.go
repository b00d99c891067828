package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordToolCall(t *testing.T) {
	before := testutil.ToFloat64(ToolCalls.WithLabelValues("metrics_test_tool", "error"))
	RecordToolCall("metrics_test_tool", true, 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(ToolCalls.WithLabelValues("metrics_test_tool", "error")))
}

func TestRecordNode(t *testing.T) {
	before := testutil.ToFloat64(NodeExecutions.WithLabelValues("metrics_test_node", "error"))
	RecordNode("metrics_test_node", errors.New("x"))
	RecordNode("metrics_test_node", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(NodeExecutions.WithLabelValues("metrics_test_node", "error")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(NodeExecutions.WithLabelValues("metrics_test_node", "success")), 1.0)
}

func TestRecordTurn(t *testing.T) {
	before := testutil.ToFloat64(TurnsCompleted.WithLabelValues("completed"))
	RecordTurn("completed", time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(TurnsCompleted.WithLabelValues("completed")))
}

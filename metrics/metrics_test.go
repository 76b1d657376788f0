package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherman-cs/bag2rawlog/record"
)

func TestCounters(t *testing.T) {
	m := New()

	m.MessageRead("/odom")
	m.MessageRead("/odom")
	m.MessageRead("/imu")
	m.MessageSkipped("/imu", ReasonDecode)
	m.HandlerFailed("/points")
	m.RecordWritten(record.KindOdometry)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesRead.WithLabelValues("/odom")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesSkipped.WithLabelValues("/imu", ReasonDecode)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlersFailed.WithLabelValues("/points")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsWritten.WithLabelValues("odometry")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RecordWritten(record.KindRangeImage)
	m.State.Set(StateDone)

	path := filepath.Join(t.TempDir(), "bag2rawlog.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `bag2rawlog_records_written_total{kind="range-image"} 1`)
	assert.Contains(t, string(data), "bag2rawlog_state 2")
}

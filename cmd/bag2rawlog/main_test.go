package main

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherman-cs/bag2rawlog/rawlog"
	"github.com/lherman-cs/bag2rawlog/record"
	"github.com/lherman-cs/bag2rawlog/transcribe"
)

// imuCDR encodes a sensor_msgs/Imu at stamp sec with a yaw rate, little endian.
func imuCDR(sec uint32, yawRate float64) []byte {
	buf := []byte{0, 1, 0, 0}
	u32 := func(v uint32) {
		for (len(buf)-4)%4 != 0 {
			buf = append(buf, 0)
		}
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	f64 := func(vs ...float64) {
		for _, v := range vs {
			for (len(buf)-4)%8 != 0 {
				buf = append(buf, 0)
			}
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}

	u32(sec)
	u32(0)
	u32(4)
	buf = append(buf, "imu\x00"...)
	f64(0, 0, 0, 1)
	f64(make([]float64, 9)...)
	f64(0, 0, yawRate)
	f64(make([]float64, 9)...)
	f64(0, 0, 9.81)
	f64(make([]float64, 9)...)
	return buf
}

func writeBag(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "input.db3")
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE topics(id INTEGER PRIMARY KEY, name TEXT NOT NULL, type TEXT NOT NULL,
			serialization_format TEXT NOT NULL, offered_qos_profiles TEXT NOT NULL)`,
		`CREATE TABLE messages(id INTEGER PRIMARY KEY, topic_id INTEGER NOT NULL,
			timestamp INTEGER NOT NULL, data BLOB NOT NULL)`,
		`INSERT INTO topics VALUES(1, '/imu', 'sensor_msgs/msg/Imu', 'cdr', '')`,
		`INSERT INTO topics VALUES(2, '/rosout', 'rcl_interfaces/msg/Log', 'cdr', '')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := db.Exec(`INSERT INTO messages(topic_id, timestamp, data) VALUES(1, ?, ?)`, i, imuCDR(uint32(i), 0.1*float64(i)))
		require.NoError(t, err)
	}
	_, err = db.Exec(`INSERT INTO messages(topic_id, timestamp, data) VALUES(2, 10, x'00010000')`)
	require.NoError(t, err)
	return path
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sensors.yaml")
	cfg := `
sensors:
  imu:
    type: CObservationIMU
    topic: /imu
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	bag := writeBag(t, dir)
	cfg := writeConfig(t, dir)
	out := filepath.Join(dir, "out.rawlog")
	prom := filepath.Join(dir, "run.prom")

	var stdout, stderr bytes.Buffer
	err := run([]string{"-o", out, "-c", cfg, "--metrics-file", prom, bag}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	assert.Contains(t, stdout.String(), " * /imu (sensor_msgs/Imu): 3 messages")
	assert.Contains(t, stdout.String(), "   /rosout (rcl_interfaces/Log): 1 messages")
	assert.Contains(t, stdout.String(), "Progress: 4/4 ["+strings.Repeat("=", progressWidth)+"] 100.0%")

	r, err := rawlog.Open(out)
	require.NoError(t, err)
	defer r.Close()
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, rec := range records {
		imu, ok := rec.(*record.IMU)
		require.True(t, ok, "got %T", rec)
		assert.Equal(t, "imu", imu.Label)
		assert.Equal(t, int64(i)*1e9, imu.Timestamp)
	}

	data, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(data), `bag2rawlog_records_written_total{kind="imu"} 3`)
	assert.Contains(t, string(data), "bag2rawlog_unhandled_topics 1")

	err = run([]string{"-o", out, "-c", cfg, "--no-progress", bag}, &stdout, &stderr)
	assert.ErrorIs(t, err, transcribe.ErrSinkOpen)
	assert.ErrorIs(t, err, rawlog.ErrExists)

	err = run([]string{"-o", out, "-c", cfg, "-w", "--no-progress", bag}, &stdout, &stderr)
	assert.NoError(t, err)
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	var stdout, stderr bytes.Buffer
	err := run([]string{"-o", filepath.Join(dir, "out.rawlog"), "-c", cfg, filepath.Join(dir, "missing.bag")}, &stdout, &stderr)
	assert.ErrorIs(t, err, transcribe.ErrSourceOpen)
	assert.NoFileExists(t, filepath.Join(dir, "out.rawlog"))
}

func TestFlags(t *testing.T) {
	testCases := []struct {
		Name  string
		Args  []string
		Valid bool
	}{
		{Name: "Complete", Args: []string{"-o", "out", "-c", "cfg", "in.bag"}, Valid: true},
		{Name: "Long names", Args: []string{"--output", "out", "--config", "cfg", "--storage-id", "bag", "in.bag"}, Valid: true},
		{Name: "No input", Args: []string{"-o", "out", "-c", "cfg"}},
		{Name: "No output", Args: []string{"-c", "cfg", "in.bag"}},
		{Name: "No config", Args: []string{"-o", "out", "in.bag"}},
		{Name: "Bad storage", Args: []string{"-o", "out", "-c", "cfg", "--storage-id", "mcap", "in.bag"}},
		{Name: "Bad level", Args: []string{"-o", "out", "-c", "cfg", "--log-level", "loud", "in.bag"}},
		{Name: "Empty frame", Args: []string{"-o", "out", "-c", "cfg", "-f", "", "in.bag"}},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			cli, err := parseFlags(testCase.Args)
			require.NoError(t, err)
			err = validateFlags(cli)
			if testCase.Valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestFrameOverride(t *testing.T) {
	cli, err := parseFlags([]string{"-o", "out", "-c", "cfg", "in.bag"})
	require.NoError(t, err)
	assert.False(t, cli.FrameSet)
	assert.Equal(t, "map", cli.Frame)

	cli, err = parseFlags([]string{"-f", "odom", "-o", "out", "-c", "cfg", "in.bag"})
	require.NoError(t, err)
	assert.True(t, cli.FrameSet)
	assert.Equal(t, "odom", cli.Frame)
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	progressBar(&buf)(100, 400)
	assert.Equal(t, "\rProgress: 100/400 ["+strings.Repeat("=", 10)+strings.Repeat(" ", 30)+"] 25.0%", buf.String())
}

// Package config loads the sensor configuration that decides which topics are transcribed and
// how.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lherman-cs/bag2rawlog/geom"
)

const (
	DefaultRootFrame     = "map"
	DefaultTFTopic       = "/tf"
	DefaultTFStaticTopic = "/tf_static"
)

var ErrInvalid = errors.New("invalid configuration")

// Type is a sensor modality.
type Type string

const (
	PointCloud   Type = "point-cloud"
	Scan2D       Type = "2d-scan"
	RotatingScan Type = "rotating-scan"
	IMU          Type = "imu"
	Odometry     Type = "odometry"
	Image        Type = "image"
	RangeImage   Type = "range-image"
)

var typeAliases = map[string]Type{
	"CObservationPointCloud":   PointCloud,
	"CObservation2DRangeScan":  Scan2D,
	"CObservationRotatingScan": RotatingScan,
	"CObservationIMU":          IMU,
	"CObservationOdometry":     Odometry,
	"CObservationImage":        Image,
	"CObservation3DRangeScan":  RangeImage,
}

// ParseType accepts the short modality names and the MRPT observation class names.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case PointCloud, Scan2D, RotatingScan, IMU, Odometry, Image, RangeImage:
		return t, nil
	}
	if t, ok := typeAliases[s]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown sensor type %q", ErrInvalid, s)
}

// Config is the validated configuration of a run.
type Config struct {
	RootFrame     string
	TFTopic       string
	TFStaticTopic string
	// TFTolerance is how far a transform lookup may extrapolate past recorded data.
	TFTolerance time.Duration
	// Sensors keep the order of the configuration file.
	Sensors []Sensor
}

// Sensor is one logical sensor. Which topic fields are set depends on Type.
type Sensor struct {
	Label string
	Type  Type

	Topic        string
	ImageTopic   string
	Depth        string
	CameraInfo   string
	RangeIsDepth bool

	Pose geom.Pose3D
}

// Topics returns every topic the sensor consumes.
func (s Sensor) Topics() []string {
	switch s.Type {
	case Image:
		return []string{s.ImageTopic}
	case RangeImage:
		return []string{s.Depth, s.CameraInfo}
	default:
		return []string{s.Topic}
	}
}

type fileConfig struct {
	RootFrame     string    `yaml:"rootFrame"`
	TFTopic       string    `yaml:"tfTopic"`
	TFStaticTopic string    `yaml:"tfStaticTopic"`
	TFTolerance   string    `yaml:"tfTolerance"`
	Sensors       yaml.Node `yaml:"sensors"`
}

type fileSensor struct {
	Type         string    `yaml:"type"`
	Topic        string    `yaml:"topic"`
	ImageTopic   string    `yaml:"image_topic"`
	Depth        string    `yaml:"depth"`
	CameraInfo   string    `yaml:"cameraInfo"`
	RangeIsDepth *bool     `yaml:"rangeIsDepth"`
	Pose         *filePose `yaml:"pose"`
}

// filePose angles are in radians.
type filePose struct {
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Z     float64 `yaml:"z"`
	Yaw   float64 `yaml:"yaw"`
	Pitch float64 `yaml:"pitch"`
	Roll  float64 `yaml:"roll"`
}

var sensorKeys = map[string]bool{
	"type": true, "topic": true, "image_topic": true, "depth": true,
	"cameraInfo": true, "rangeIsDepth": true, "pose": true,
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML configuration.
func Parse(data []byte) (*Config, error) {
	var file fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg := &Config{
		RootFrame:     file.RootFrame,
		TFTopic:       file.TFTopic,
		TFStaticTopic: file.TFStaticTopic,
	}
	if cfg.RootFrame == "" {
		cfg.RootFrame = DefaultRootFrame
	}
	if cfg.TFTopic == "" {
		cfg.TFTopic = DefaultTFTopic
	}
	if cfg.TFStaticTopic == "" {
		cfg.TFStaticTopic = DefaultTFStaticTopic
	}
	if file.TFTolerance != "" {
		tolerance, err := time.ParseDuration(file.TFTolerance)
		if err != nil {
			return nil, fmt.Errorf("%w: tfTolerance: %v", ErrInvalid, err)
		}
		cfg.TFTolerance = tolerance
	}

	sensors, err := parseSensors(&file.Sensors)
	if err != nil {
		return nil, err
	}
	cfg.Sensors = sensors

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseSensors walks the sensors mapping node directly so that file order survives.
func parseSensors(node *yaml.Node) ([]Sensor, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: line %d: sensors must be a mapping", ErrInvalid, node.Line)
	}

	var sensors []Sensor
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		label := key.Value

		if value.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: sensor %q (line %d) must be a mapping", ErrInvalid, label, value.Line)
		}
		for j := 0; j+1 < len(value.Content); j += 2 {
			if k := value.Content[j]; !sensorKeys[k.Value] {
				return nil, fmt.Errorf("%w: sensor %q: unknown key %q (line %d)", ErrInvalid, label, k.Value, k.Line)
			}
		}

		var entry fileSensor
		if err := value.Decode(&entry); err != nil {
			return nil, fmt.Errorf("%w: sensor %q: %v", ErrInvalid, label, err)
		}

		sensor, err := entry.sensor(label)
		if err != nil {
			return nil, err
		}
		sensors = append(sensors, sensor)
	}
	return sensors, nil
}

func (entry fileSensor) sensor(label string) (Sensor, error) {
	t, err := ParseType(entry.Type)
	if err != nil {
		return Sensor{}, fmt.Errorf("sensor %q: %w", label, err)
	}

	sensor := Sensor{
		Label:        label,
		Type:         t,
		Topic:        entry.Topic,
		ImageTopic:   entry.ImageTopic,
		Depth:        entry.Depth,
		CameraInfo:   entry.CameraInfo,
		RangeIsDepth: true,
	}
	if entry.RangeIsDepth != nil {
		sensor.RangeIsDepth = *entry.RangeIsDepth
	}
	if p := entry.Pose; p != nil {
		sensor.Pose = geom.Pose3D{X: p.X, Y: p.Y, Z: p.Z, Yaw: p.Yaw, Pitch: p.Pitch, Roll: p.Roll}
	}
	return sensor, nil
}

// Validate checks the configuration as a whole.
func (c *Config) Validate() error {
	if c.RootFrame == "" {
		return fmt.Errorf("%w: rootFrame is empty", ErrInvalid)
	}
	if c.TFTopic == "" || c.TFStaticTopic == "" || c.TFTopic == c.TFStaticTopic {
		return fmt.Errorf("%w: tfTopic %q and tfStaticTopic %q must be distinct and set", ErrInvalid, c.TFTopic, c.TFStaticTopic)
	}
	if c.TFTolerance < 0 {
		return fmt.Errorf("%w: tfTolerance is negative", ErrInvalid)
	}

	labels := make(map[string]bool)
	cloudTopics := make(map[string]Type)
	for _, sensor := range c.Sensors {
		if sensor.Label == "" {
			return fmt.Errorf("%w: sensor label cannot be empty", ErrInvalid)
		}
		if labels[sensor.Label] {
			return fmt.Errorf("%w: sensor %q defined twice", ErrInvalid, sensor.Label)
		}
		labels[sensor.Label] = true

		if err := sensor.validate(); err != nil {
			return err
		}

		for _, topic := range sensor.Topics() {
			if topic == c.TFTopic || topic == c.TFStaticTopic {
				return fmt.Errorf("%w: sensor %q reads the transform topic %q", ErrInvalid, sensor.Label, topic)
			}
		}

		if sensor.Type == PointCloud || sensor.Type == RotatingScan {
			if other, ok := cloudTopics[sensor.Topic]; ok && other != sensor.Type {
				return fmt.Errorf("%w: topic %q feeds both a %s and a %s sensor", ErrInvalid, sensor.Topic, other, sensor.Type)
			}
			cloudTopics[sensor.Topic] = sensor.Type
		}
	}
	return nil
}

func (s Sensor) validate() error {
	var missing []string
	switch s.Type {
	case Image:
		if s.ImageTopic == "" {
			missing = append(missing, "image_topic")
		}
	case RangeImage:
		if s.Depth == "" {
			missing = append(missing, "depth")
		}
		if s.CameraInfo == "" {
			missing = append(missing, "cameraInfo")
		}
		if s.Depth != "" && s.Depth == s.CameraInfo {
			return fmt.Errorf("%w: sensor %q: depth and cameraInfo are the same topic", ErrInvalid, s.Label)
		}
	default:
		if s.Topic == "" {
			missing = append(missing, "topic")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: sensor %q (%s) is missing %s", ErrInvalid, s.Label, s.Type, strings.Join(missing, ", "))
	}
	return nil
}

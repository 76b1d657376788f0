package rosbag

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type TestField struct {
	Name      string
	Value     interface{}
	ArraySize int
	Dynamic   bool
	Const     bool
}

func addData(b []byte, v interface{}) []byte {
	var buf []byte
	switch v := v.(type) {
	case bool:
		if v {
			buf = []byte{1}
		} else {
			buf = []byte{0}
		}
	case int8:
		buf = []byte{byte(v)}
	case uint8:
		buf = []byte{v}
	case int16:
		buf = make([]byte, 2)
		endian.PutUint16(buf, uint16(v))
	case uint16:
		buf = make([]byte, 2)
		endian.PutUint16(buf, v)
	case int32:
		buf = u32(uint32(v))
	case uint32:
		buf = u32(v)
	case int64:
		buf = u64(uint64(v))
	case uint64:
		buf = u64(v)
	case float32:
		buf = u32(math.Float32bits(v))
	case float64:
		buf = u64(math.Float64bits(v))
	case string:
		buf = stringPayload(v)
	case time.Time:
		buf = rosTime(v)
	case time.Duration:
		buf = concat(u32(uint32(v/time.Second)), u32(uint32(v%time.Second)))
	case []TestField:
		buf = convertFieldsToRaw(v)
	}

	return append(b, buf...)
}

func convertFieldsToRaw(fields []TestField) []byte {
	var raw []byte

	for _, field := range fields {
		if field.Const {
			continue
		}

		if field.ArraySize == 0 {
			raw = addData(raw, field.Value)
			continue
		}

		if field.Dynamic {
			raw = addData(raw, uint32(field.ArraySize))
		}

		reflectValue := reflect.ValueOf(field.Value)
		for i := 0; i < reflectValue.Len(); i++ {
			raw = addData(raw, reflectValue.Index(i).Interface())
		}
	}

	return raw
}

func convertFieldsToMap(fields []TestField) map[string]interface{} {
	m := make(map[string]interface{})

	for _, field := range fields {
		switch v := field.Value.(type) {
		case []TestField:
			m[field.Name] = convertFieldsToMap(v)
		case [][]TestField:
			arr := make([]map[string]interface{}, len(v))
			for i, item := range v {
				arr[i] = convertFieldsToMap(item)
			}
			m[field.Name] = arr
		default:
			m[field.Name] = field.Value
		}
	}

	return m
}

func TestDecodeMessageDataIntoMap(t *testing.T) {
	msgDefRaw := []byte(`
# Comments can be anywhere
bool bool# Comment can be next to the variable name
int8     int8 # Space should not matter in between the type and name
  uint8 uint8 # Initial space shouldn't matter either
int16 int16
uint16 uint16
int32 int32
uint32 uint32
int64 int64
uint64 uint64
float32 float32
float64 float64
string string
time time
duration duration
Person person

float32[] float32Slice
string[] stringSlice
time[] timeSlice
Person[] personSlice

uint8[2] uint8Array
float64[3] float64Array
Person[2] personArray

Const const

================================================================================
  MSG: custom_msgs/Person # Message type should be parseable with a comment and a leading space
uint8 age

MSG: custom_msgs/Const
bool boolConst = 1
int8 int8Const = -1
uint32 uint32Const = 1
float64 float64Const = 0.321
string stringConst  =  lukas herman# This comment should not be included in the string
`)

	expectedFields := []TestField{
		{Name: "bool", Value: true},
		{Name: "int8", Value: int8(math.MinInt8)},
		{Name: "uint8", Value: uint8(math.MaxUint8)},
		{Name: "int16", Value: int16(math.MinInt16)},
		{Name: "uint16", Value: uint16(math.MaxUint16)},
		{Name: "int32", Value: int32(math.MinInt32)},
		{Name: "uint32", Value: uint32(math.MaxUint32)},
		{Name: "int64", Value: int64(math.MinInt64)},
		{Name: "uint64", Value: uint64(math.MaxUint64)},
		{Name: "float32", Value: float32(math.MaxFloat32 / 10)},
		{Name: "float64", Value: float64(math.MaxFloat64 / 10)},
		{Name: "string", Value: "lukas"},
		{Name: "time", Value: time.Unix(1, 10)},
		{Name: "duration", Value: time.Second + time.Nanosecond},
		{Name: "person", Value: []TestField{
			{Name: "age", Value: uint8(24)},
		}},
		{Name: "float32Slice", Value: []float32{0.123, 0.3312, 0.111}, ArraySize: 3, Dynamic: true},
		{Name: "stringSlice", Value: []string{"lukas"}, ArraySize: 1, Dynamic: true},
		{Name: "timeSlice", Value: []time.Time{time.Unix(10, 1000), time.Unix(1000, 2132131)}, ArraySize: 2, Dynamic: true},
		{Name: "personSlice", ArraySize: 2, Dynamic: true, Value: [][]TestField{
			{{Name: "age", Value: uint8(26)}},
			{{Name: "age", Value: uint8(100)}},
		}},
		{Name: "uint8Array", Value: []uint8{1, 2}, ArraySize: 2},
		{Name: "float64Array", Value: []float64{-0.123, 0.3312, -0.111}, ArraySize: 3},
		{Name: "personArray", ArraySize: 2, Value: [][]TestField{
			{{Name: "age", Value: uint8(26)}},
			{{Name: "age", Value: uint8(100)}},
		}},
		{Name: "const", Value: []TestField{
			{Name: "boolConst", Value: true, Const: true},
			{Name: "int8Const", Value: int8(-1), Const: true},
			{Name: "uint32Const", Value: uint32(1), Const: true},
			{Name: "float64Const", Value: float64(0.321), Const: true},
			{Name: "stringConst", Value: "lukas herman", Const: true},
		}},
	}

	expectedMap := convertFieldsToMap(expectedFields)
	msgDataRaw := convertFieldsToRaw(expectedFields)

	msgDef, err := ParseMessageDefinition("custom_msgs/Everything", msgDefRaw)
	if err != nil {
		t.Fatal(err)
	}

	actualMap := make(map[string]interface{})
	if err := msgDef.Unmarshall(msgDataRaw, actualMap); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(expectedMap, actualMap); diff != "" {
		t.Fatal(diff)
	}
}

type testPoint struct {
	X float64 `rosbag:"x"`
	Y float64 `rosbag:"y"`
}

type testPath struct {
	Stamp  time.Time   `rosbag:"stamp"`
	Name   string      `rosbag:"name"`
	Points []testPoint `rosbag:"points"`
	Origin testPoint   `rosbag:"origin"`
	Flags  []uint8     `rosbag:"flags"`
}

func TestDecodeMessageDataIntoStruct(t *testing.T) {
	msgDefRaw := []byte(`
time stamp
string name
uint32 ignored
geometry_msgs/Point2[] points
geometry_msgs/Point2 origin
uint8[] flags
================================================================================
MSG: geometry_msgs/Point2
float64 x
float64 y
`)

	var raw []byte
	raw = addData(raw, time.Unix(5, 6))
	raw = addData(raw, "route")
	raw = addData(raw, uint32(42))
	raw = addData(raw, uint32(2))
	raw = addData(raw, 1.0)
	raw = addData(raw, 2.0)
	raw = addData(raw, 3.0)
	raw = addData(raw, 4.0)
	raw = addData(raw, -1.0)
	raw = addData(raw, -2.0)
	raw = addData(raw, uint32(3))
	raw = append(raw, 7, 8, 9)

	msgDef, err := ParseMessageDefinition("nav_msgs/Route", msgDefRaw)
	if err != nil {
		t.Fatal(err)
	}

	var actual testPath
	if err := msgDef.Unmarshall(raw, &actual); err != nil {
		t.Fatal(err)
	}

	expected := testPath{
		Stamp:  time.Unix(5, 6),
		Name:   "route",
		Points: []testPoint{{1, 2}, {3, 4}},
		Origin: testPoint{-1, -2},
		Flags:  []uint8{7, 8, 9},
	}
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Fatal(diff)
	}
}

func TestDecodeMessageDataErrors(t *testing.T) {
	testCases := []struct {
		Name string
		Def  string
		Raw  []byte
		Data interface{}
	}{
		{
			Name: "Truncated payload",
			Def:  "float64 x\n",
			Raw:  []byte{1, 2, 3},
			Data: map[string]interface{}{},
		},
		{
			Name: "Mismatched struct field type",
			Def:  "string x\n",
			Raw:  stringPayload("a"),
			Data: &testPoint{},
		},
		{
			Name: "Non pointer struct",
			Def:  "float64 x\n",
			Raw:  u64(0),
			Data: testPoint{},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			msgDef, err := ParseMessageDefinition("test/Msg", []byte(testCase.Def))
			if err != nil {
				t.Fatal(err)
			}
			if err := msgDef.Unmarshall(testCase.Raw, testCase.Data); err == nil {
				t.Fatal("expected to fail")
			}
		})
	}
}

func TestParseMessageDefinitionUnresolved(t *testing.T) {
	_, err := ParseMessageDefinition("test/Msg", []byte("Missing field\n"))
	if err == nil {
		t.Fatal("expected unresolved type to fail")
	}
}

func BenchmarkDecodeMessageData(b *testing.B) {
	b.StopTimer()
	msgDefRaw := []byte(`
uint8[] pixels
`)

	res := 1920 * 1080
	var msgDataRaw []byte
	msgDataRaw = addData(msgDataRaw, uint32(res))
	for i := 0; i < res; i++ {
		msgDataRaw = addData(msgDataRaw, uint8(i))
	}

	msgDef, err := ParseMessageDefinition("sensor_msgs/Pixels", msgDefRaw)
	if err != nil {
		b.Fatal(err)
	}

	b.StartTimer()
	for i := 0; i < b.N; i++ {
		if err := msgDef.Unmarshall(msgDataRaw, make(map[string]interface{})); err != nil {
			b.Fatal(err)
		}
	}
}

package rosbag

import (
	"math"
)

type fieldDecodeFunc func(raw []byte, length int) (v interface{}, off int, ok bool)

var fieldDecodeBasicHelper = map[MessageFieldType]fieldDecodeFunc{
	MessageFieldTypeBool:     scalarDecoder(1, decodeBool),
	MessageFieldTypeInt8:     scalarDecoder(1, decodeInt8),
	MessageFieldTypeUint8:    scalarDecoder(1, decodeUint8),
	MessageFieldTypeInt16:    scalarDecoder(2, decodeInt16),
	MessageFieldTypeUint16:   scalarDecoder(2, endian.Uint16),
	MessageFieldTypeInt32:    scalarDecoder(4, decodeInt32),
	MessageFieldTypeUint32:   scalarDecoder(4, endian.Uint32),
	MessageFieldTypeInt64:    scalarDecoder(8, decodeInt64),
	MessageFieldTypeUint64:   scalarDecoder(8, endian.Uint64),
	MessageFieldTypeFloat32:  scalarDecoder(4, decodeFloat32),
	MessageFieldTypeFloat64:  scalarDecoder(8, decodeFloat64),
	MessageFieldTypeString:   fieldDecodeString,
	MessageFieldTypeTime:     scalarDecoder(8, extractTime),
	MessageFieldTypeDuration: scalarDecoder(8, extractDuration),
}

var fieldDecodeSliceHelper = map[MessageFieldType]fieldDecodeFunc{
	MessageFieldTypeBool:     sliceDecoder(1, decodeBool),
	MessageFieldTypeInt8:     sliceDecoder(1, decodeInt8),
	MessageFieldTypeUint8:    fieldDecodeUint8Slice,
	MessageFieldTypeInt16:    sliceDecoder(2, decodeInt16),
	MessageFieldTypeUint16:   sliceDecoder(2, endian.Uint16),
	MessageFieldTypeInt32:    sliceDecoder(4, decodeInt32),
	MessageFieldTypeUint32:   sliceDecoder(4, endian.Uint32),
	MessageFieldTypeInt64:    sliceDecoder(8, decodeInt64),
	MessageFieldTypeUint64:   sliceDecoder(8, endian.Uint64),
	MessageFieldTypeFloat32:  sliceDecoder(4, decodeFloat32),
	MessageFieldTypeFloat64:  sliceDecoder(8, decodeFloat64),
	MessageFieldTypeString:   fieldDecodeStringSlice,
	MessageFieldTypeTime:     sliceDecoder(8, extractTime),
	MessageFieldTypeDuration: sliceDecoder(8, extractDuration),
}

func decodeBool(raw []byte) bool       { return raw[0] != 0 }
func decodeInt8(raw []byte) int8       { return int8(raw[0]) }
func decodeUint8(raw []byte) uint8     { return raw[0] }
func decodeInt16(raw []byte) int16     { return int16(endian.Uint16(raw)) }
func decodeInt32(raw []byte) int32     { return int32(endian.Uint32(raw)) }
func decodeInt64(raw []byte) int64     { return int64(endian.Uint64(raw)) }
func decodeFloat32(raw []byte) float32 { return math.Float32frombits(endian.Uint32(raw)) }
func decodeFloat64(raw []byte) float64 { return math.Float64frombits(endian.Uint64(raw)) }

// fieldDecodeLength returns the element count of an array field. Fixed-size arrays carry no
// length prefix.
func fieldDecodeLength(raw []byte, fixedLength int) (length int, off int, ok bool) {
	if fixedLength >= 0 {
		ok = true
		length = fixedLength
		return
	}

	if len(raw) < lenInBytes {
		return
	}

	length = int(endian.Uint32(raw))
	if length < 0 {
		return
	}

	ok = true
	off = lenInBytes
	return
}

func scalarDecoder[T any](size int, conv func([]byte) T) fieldDecodeFunc {
	return func(raw []byte, length int) (v interface{}, off int, ok bool) {
		off = size
		if len(raw) < off {
			return
		}

		v = conv(raw)
		ok = true
		return
	}
}

func sliceDecoder[T any](size int, conv func([]byte) T) fieldDecodeFunc {
	return func(raw []byte, length int) (v interface{}, off int, ok bool) {
		length, off, ok = fieldDecodeLength(raw, length)
		if !ok {
			return
		}

		raw = raw[off:]
		if len(raw)/size < length {
			ok = false
			return
		}

		arr := make([]T, length)
		for i := range arr {
			arr[i] = conv(raw[i*size:])
		}
		v = arr
		off += length * size
		return
	}
}

// fieldDecodeUint8Slice copies instead of converting byte by byte since uint8[] carries
// images and point clouds.
func fieldDecodeUint8Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok {
		return
	}

	raw = raw[off:]
	if len(raw) < length {
		ok = false
		return
	}

	arr := make([]uint8, length)
	copy(arr, raw)
	v = arr
	off += length
	return
}

func fieldDecodeString(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, -1)
	if !ok {
		return
	}

	raw = raw[off:]
	if len(raw) < length {
		ok = false
		return
	}

	v = string(raw[:length])
	off += length
	return
}

func fieldDecodeStringSlice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok {
		return
	}

	if length == 0 {
		var s []string
		v = s
		return
	}

	// every string carries at least its length prefix
	if length > len(raw[off:])/lenInBytes {
		ok = false
		return
	}

	s := make([]string, length)
	totalOff := off
	for i := 0; i < length; i++ {
		v, off, ok = fieldDecodeString(raw[totalOff:], -1)
		if !ok {
			off = 0
			return
		}

		s[i] = v.(string)
		totalOff += off
	}

	v = s
	off = totalOff
	ok = true
	return
}

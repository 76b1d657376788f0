package rosmsg

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedType     = errors.New("unsupported message type")
	ErrUnsupportedEncoding = errors.New("unsupported message encoding")
	ErrMissingDefinition   = errors.New("ros1 message has no definition")
)

type variant struct {
	new func() Message
	cdr func(r *cdrReader, m Message)
}

var variants = map[string]variant{
	TypeTFMessage: {
		new: func() Message { return &TFMessage{} },
		cdr: func(r *cdrReader, m Message) { decodeCDRTFMessage(r, m.(*TFMessage)) },
	},
	TypePointCloud: {
		new: func() Message { return &PointCloud2{} },
		cdr: func(r *cdrReader, m Message) { decodeCDRPointCloud2(r, m.(*PointCloud2)) },
	},
	TypeLaserScan: {
		new: func() Message { return &LaserScan{} },
		cdr: func(r *cdrReader, m Message) { decodeCDRLaserScan(r, m.(*LaserScan)) },
	},
	TypeImu: {
		new: func() Message { return &Imu{} },
		cdr: func(r *cdrReader, m Message) { decodeCDRImu(r, m.(*Imu)) },
	},
	TypeOdometry: {
		new: func() Message { return &Odometry{} },
		cdr: func(r *cdrReader, m Message) { decodeCDROdometry(r, m.(*Odometry)) },
	},
	TypeImage: {
		new: func() Message { return &Image{} },
		cdr: func(r *cdrReader, m Message) { decodeCDRImage(r, m.(*Image)) },
	},
	TypeCameraInfo: {
		new: func() Message { return &CameraInfo{} },
		cdr: func(r *cdrReader, m Message) { decodeCDRCameraInfo(r, m.(*CameraInfo)) },
	},
}

// Supported reports whether Decode knows the message type.
func Supported(msgType string) bool {
	_, ok := variants[NormalizeType(msgType)]
	return ok
}

// Decode turns a raw payload into its message variant, chosen by the type tag.
func Decode(raw RawMessage) (Message, error) {
	msgType := NormalizeType(raw.Type)
	v, ok := variants[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, raw.Type)
	}

	msg := v.new()
	switch raw.Encoding {
	case EncodingROS1:
		if raw.Definition == nil {
			return nil, ErrMissingDefinition
		}
		if err := raw.Definition.Unmarshall(raw.Data, msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msgType, err)
		}
	case EncodingCDR:
		r, err := newCDRReader(raw.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", msgType, err)
		}
		v.cdr(r, msg)
		if r.err != nil {
			return nil, fmt.Errorf("decode %s: %w", msgType, r.err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, raw.Encoding)
	}
	return msg, nil
}

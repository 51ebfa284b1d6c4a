package stream

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"camlink-agent/internal/model"
)

// FrameMessage is the gRPC stream payload: one complete image per message.
type FrameMessage struct {
	DeviceID       string `msgpack:"device_id"`
	Seq            uint64 `msgpack:"seq"`
	CapturedAtUsec int64  `msgpack:"captured_at_usec"`
	Format         string `msgpack:"format"`
	Data           []byte `msgpack:"data"`
}

// FrameAck is what the collector sends back on the gRPC stream.
type FrameAck struct {
	Seq     uint64 `msgpack:"seq"`
	Message string `msgpack:"message"`
}

// NewFrameMessage copies the frame bytes so the message outlives the frame's release.
func NewFrameMessage(deviceID string, f *model.Frame) *FrameMessage {
	return &FrameMessage{
		DeviceID:       deviceID,
		Seq:            f.Seq,
		CapturedAtUsec: f.CapturedAt.UnixMicro(),
		Format:         string(f.Format),
		Data:           bytes.Clone(f.Data),
	}
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string {
	return "msgpack"
}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

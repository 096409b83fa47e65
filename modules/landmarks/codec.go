package landmarks

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize bounds a single worker message (a 1280x720 RGB frame is ~2.7MB).
const maxMessageSize = 16 << 20

// workerRequest is sent to the landmark worker for each frame.
type workerRequest struct {
	FrameData []byte   `msgpack:"frame_data"`
	Width     int      `msgpack:"width"`
	Height    int      `msgpack:"height"`
	Need      []string `msgpack:"need"`
	Seq       uint64   `msgpack:"seq"`
	TraceID   string   `msgpack:"trace_id"`
}

// workerReply is either the "ready" handshake or a detection result.
type workerReply struct {
	Type   string             `msgpack:"type"`
	Seq    uint64             `msgpack:"seq"`
	Hand   [][]float64        `msgpack:"hand"`
	Face   [][]float64        `msgpack:"face"`
	Pose   [][]float64        `msgpack:"pose"`
	Error  string             `msgpack:"error"`
	Timing map[string]float64 `msgpack:"timing"`
}

// writeMessage writes v as a 4-byte big-endian length prefix followed by msgpack.
func writeMessage(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal msgpack: %w", err)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read message body: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal msgpack: %w", err)
	}
	return nil
}

// toPoints converts [[x,y,z],...] into points. Nil stays nil.
func toPoints(raw [][]float64) []Point {
	if raw == nil {
		return nil
	}
	points := make([]Point, len(raw))
	for i, p := range raw {
		if len(p) > 0 {
			points[i].X = p[0]
		}
		if len(p) > 1 {
			points[i].Y = p[1]
		}
		if len(p) > 2 {
			points[i].Z = p[2]
		}
	}
	return points
}

package mocap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/mocap.flight/internal/geom"
)

// frameMagic starts every 6-DOF datagram.
var frameMagic = [4]byte{'M', 'C', '6', 'D'}

// headerSize is magic + frame number + body count.
const headerSize = 4 + 4 + 2

// bodyPayloadSize is 3 position floats and 9 rotation floats.
const bodyPayloadSize = 12 * 4

var (
	ErrBadMagic   = errors.New("not a 6-DOF frame")
	ErrShortFrame = errors.New("truncated 6-DOF frame")
)

// Body is one rigid body in a frame.
type Body struct {
	Name    string
	Tracked bool
	Pose    geom.Pose // metres, row-major rotation; NaN when untracked
}

// Frame is one decoded 6-DOF datagram.
type Frame struct {
	Number uint32
	Bodies []Body
}

// DecodeFrame parses a little-endian 6-DOF datagram. Positions arrive in
// millimetres with a column-major rotation and are converted to metres and a
// row-major matrix.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < headerSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	if !bytes.Equal(b[:4], frameMagic[:]) {
		return Frame{}, ErrBadMagic
	}
	f := Frame{Number: binary.LittleEndian.Uint32(b[4:8])}
	count := int(binary.LittleEndian.Uint16(b[8:10]))
	f.Bodies = make([]Body, 0, count)

	off := headerSize
	for i := 0; i < count; i++ {
		if off >= len(b) {
			return Frame{}, fmt.Errorf("%w: body %d of %d", ErrShortFrame, i, count)
		}
		n := int(b[off])
		off++
		if off+n+bodyPayloadSize > len(b) {
			return Frame{}, fmt.Errorf("%w: body %d of %d", ErrShortFrame, i, count)
		}
		name := string(b[off : off+n])
		off += n

		var vals [12]float64
		for j := range vals {
			vals[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[off:])))
			off += 4
		}
		var rot [9]float64
		copy(rot[:], vals[3:])
		p := geom.FromMillimetres(vals[0], vals[1], vals[2], rot)
		f.Bodies = append(f.Bodies, Body{Name: name, Tracked: p.IsValid(), Pose: p})
	}
	return f, nil
}

// EncodeFrame is the inverse of DecodeFrame. Untracked bodies are written
// with NaN positions and an identity rotation; a body without a rotation is
// written with the identity.
func EncodeFrame(f Frame) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(f.Bodies)*(bodyPayloadSize+16)))
	buf.Write(frameMagic[:])
	binary.Write(buf, binary.LittleEndian, f.Number)
	if len(f.Bodies) > math.MaxUint16 {
		return nil, fmt.Errorf("too many bodies: %d", len(f.Bodies))
	}
	binary.Write(buf, binary.LittleEndian, uint16(len(f.Bodies)))

	for _, body := range f.Bodies {
		if len(body.Name) > math.MaxUint8 {
			return nil, fmt.Errorf("body name %q too long", body.Name)
		}
		buf.WriteByte(byte(len(body.Name)))
		buf.WriteString(body.Name)

		x, y, z := body.Pose.X*1000, body.Pose.Y*1000, body.Pose.Z*1000
		if !body.Tracked {
			x, y, z = math.NaN(), math.NaN(), math.NaN()
		}
		rot := geom.Identity()
		if body.Pose.Rotation != nil && body.Tracked {
			rot = *body.Pose.Rotation
		}
		vals := [12]float32{float32(x), float32(y), float32(z)}
		for i, v := range rot.ColumnMajor() {
			vals[3+i] = float32(v)
		}
		binary.Write(buf, binary.LittleEndian, vals)
	}
	return buf.Bytes(), nil
}

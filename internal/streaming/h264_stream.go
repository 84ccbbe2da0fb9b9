package streaming

import (
	"errors"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

// H.264 NAL unit types used for access unit grouping.
const (
	nalSlice = 1
	nalIDR   = 5
	nalSEI   = 6
	nalSPS   = 7
	nalPPS   = 8
	nalAUD   = 9
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// accessUnitReader groups the NAL units of an Annex-B elementary stream into
// access units, one per encoded frame.
type accessUnitReader struct {
	r       *h264reader.H264Reader
	pending [][]byte
	hasVCL  bool
}

func newAccessUnitReader(r io.Reader) (*accessUnitReader, error) {
	hr, err := h264reader.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &accessUnitReader{r: hr}, nil
}

// Next returns the NAL units of the next complete access unit. A trailing
// access unit is returned when the stream ends.
func (a *accessUnitReader) Next() ([][]byte, error) {
	for {
		nal, err := a.r.NextNAL()
		if err != nil {
			if a.hasVCL && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				return a.flush(), nil
			}
			return nil, err
		}
		if len(nal.Data) == 0 {
			continue
		}

		data := append([]byte(nil), nal.Data...)
		if a.hasVCL && startsAccessUnit(data) {
			au := a.flush()
			a.add(data)
			return au, nil
		}
		a.add(data)
	}
}

func (a *accessUnitReader) add(nal []byte) {
	a.pending = append(a.pending, nal)
	if t := nal[0] & 0x1F; t == nalSlice || t == nalIDR {
		a.hasVCL = true
	}
}

func (a *accessUnitReader) flush() [][]byte {
	au := a.pending
	a.pending, a.hasVCL = nil, false
	return au
}

// startsAccessUnit reports whether nal opens a new access unit when the
// current one already holds a picture.
func startsAccessUnit(nal []byte) bool {
	switch nal[0] & 0x1F {
	case nalAUD, nalSPS, nalPPS, nalSEI:
		return true
	case nalSlice, nalIDR:
		// first_mb_in_slice is ue(v); a leading 1 bit encodes zero.
		return len(nal) > 1 && nal[1]&0x80 != 0
	}
	return false
}

// parameterSets remembers the last SPS/PPS and injects them before IDR
// pictures that arrive without in-band parameter sets, so late joining
// peers can start decoding at any keyframe.
type parameterSets struct {
	sps, pps []byte
}

func (p *parameterSets) apply(au [][]byte) [][]byte {
	hasPS, hasIDR := false, false
	for _, nal := range au {
		switch nal[0] & 0x1F {
		case nalSPS:
			p.sps, hasPS = nal, true
		case nalPPS:
			p.pps, hasPS = nal, true
		case nalIDR:
			hasIDR = true
		}
	}
	if !hasIDR || hasPS || p.sps == nil || p.pps == nil {
		return au
	}
	out := make([][]byte, 0, len(au)+2)
	return append(append(out, p.sps, p.pps), au...)
}

// annexB joins NAL units with start codes.
func annexB(au [][]byte) []byte {
	size := 0
	for _, nal := range au {
		size += len(annexBStartCode) + len(nal)
	}
	buf := make([]byte, 0, size)
	for _, nal := range au {
		buf = append(buf, annexBStartCode...)
		buf = append(buf, nal...)
	}
	return buf
}

func isKeyframe(au [][]byte) bool {
	for _, nal := range au {
		if nal[0]&0x1F == nalIDR {
			return true
		}
	}
	return false
}

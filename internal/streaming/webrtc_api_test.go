package streaming

import (
	"testing"

	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountRTCP(t *testing.T) {
	const id = "rtcp-count"
	raw, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.TransportLayerNack{MediaSSRC: 1, Nacks: []rtcp.NackPair{{PacketID: 100, LostPackets: 0b101}}},
		&rtcp.PictureLossIndication{MediaSSRC: 1},
		&rtcp.FullIntraRequest{MediaSSRC: 1, FIR: []rtcp.FIREntry{{SSRC: 1}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	countRTCP(id, raw)
	countRTCP(id, []byte{0xde, 0xad})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"rtcp packets", testutil.ToFloat64(webrtcRTCPPackets.WithLabelValues(id)), 3},
		{"nacks", testutil.ToFloat64(webrtcStreamNACKs.WithLabelValues(id)), 3},
		{"plis", testutil.ToFloat64(webrtcStreamPLIs.WithLabelValues(id)), 1},
		{"firs", testutil.ToFloat64(webrtcStreamFIRs.WithLabelValues(id)), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestNewWebRTCAPI(t *testing.T) {
	api, err := NewWebRTCAPI("api-build")
	if err != nil {
		t.Fatalf("NewWebRTCAPI() error = %v", err)
	}
	pc, err := api.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection() error = %v", err)
	}
	pc.Close()
}

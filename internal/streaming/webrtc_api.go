package streaming

import (
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/interceptor/pkg/twcc"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

const (
	// nackHistory is the number of sent packets kept for retransmission.
	// pion keeps 64 by default, less than one keyframe of the preview.
	nackHistory = 2048
	// srtpReplayWindow must cover nackHistory or retransmits are dropped.
	srtpReplayWindow = 4096
)

// previewProfiles are the H.264 profile-level-ids offered to browsers, in
// order of preference. The preview encoder emits constrained baseline 3.1.
var previewProfiles = []string{"42e01f", "42001f"}

// NewWebRTCAPI builds the pion API used for the peers of one preview stream.
// RTCP feedback received from those peers is counted under streamID.
func NewWebRTCAPI(streamID string) (*pion.API, error) {
	m := &pion.MediaEngine{}
	feedback := []pion.RTCPFeedback{
		{Type: "goog-remb"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: pion.TypeRTCPFBTransportCC},
	}
	for i, profile := range previewProfiles {
		codec := pion.RTPCodecParameters{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    h264Clock,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=" + profile,
				RTCPFeedback: feedback,
			},
			PayloadType: pion.PayloadType(96 + i),
		}
		if err := m.RegisterCodec(codec, pion.RTPCodecTypeVideo); err != nil {
			return nil, err
		}
	}

	registry := &interceptor.Registry{}
	factories, err := previewInterceptors()
	if err != nil {
		return nil, err
	}
	for _, f := range factories {
		registry.Add(f)
	}
	registry.Add(rtcpCounterFactory(streamID))

	settings := pion.SettingEngine{}
	settings.SetDTLSInsecureSkipHelloVerify(true)
	settings.SetSRTPReplayProtectionWindow(srtpReplayWindow)

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(registry),
		pion.WithSettingEngine(settings),
	), nil
}

// previewInterceptors returns retransmission, RTCP report, stats and
// transport-wide congestion control interceptors.
func previewInterceptors() ([]interceptor.Factory, error) {
	responder, err := nack.NewResponderInterceptor(nack.ResponderSize(nackHistory))
	if err != nil {
		return nil, err
	}
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, err
	}
	receiver, err := report.NewReceiverInterceptor()
	if err != nil {
		return nil, err
	}
	sender, err := report.NewSenderInterceptor()
	if err != nil {
		return nil, err
	}
	statsFactory, err := stats.NewInterceptor()
	if err != nil {
		return nil, err
	}
	congestion, err := twcc.NewSenderInterceptor()
	if err != nil {
		return nil, err
	}
	return []interceptor.Factory{responder, generator, receiver, sender, statsFactory, congestion}, nil
}

// rtcpCounterFactory counts the RTCP feedback preview peers send back.
type rtcpCounterFactory string

func (f rtcpCounterFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	return &rtcpCounter{streamID: string(f)}, nil
}

type rtcpCounter struct {
	interceptor.NoOp
	streamID string
}

func (c *rtcpCounter) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return interceptor.RTCPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, attrs, err := reader.Read(b, a)
		if err == nil {
			countRTCP(c.streamID, b[:n])
		}
		return n, attrs, err
	})
}

// countRTCP updates the feedback counters of streamID from one compound
// RTCP packet. Undecodable packets are ignored.
func countRTCP(streamID string, raw []byte) {
	packets, err := rtcp.Unmarshal(raw)
	if err != nil {
		return
	}
	for _, pkt := range packets {
		webrtcRTCPPackets.WithLabelValues(streamID).Inc()
		switch p := pkt.(type) {
		case *rtcp.TransportLayerNack:
			lost := 0
			for _, pair := range p.Nacks {
				lost += len(pair.PacketList())
			}
			webrtcStreamNACKs.WithLabelValues(streamID).Add(float64(lost))
		case *rtcp.PictureLossIndication:
			webrtcStreamPLIs.WithLabelValues(streamID).Inc()
		case *rtcp.FullIntraRequest:
			webrtcStreamFIRs.WithLabelValues(streamID).Inc()
		}
	}
}

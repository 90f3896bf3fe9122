package mediagraph

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// h264Packetizer converts H.264 Annex B access units into RTP packets
// per RFC 6184: single NAL unit packets where they fit the MTU, FU-A
// fragments otherwise.
type h264Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	mu          sync.Mutex
}

func newH264Packetizer(ssrc uint32, payloadType uint8, mtu int) *h264Packetizer {
	if mtu <= 0 {
		mtu = 1200
	}
	return &h264Packetizer{
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
	}
}

// packetize converts one Annex B access unit into RTP packets, stamping
// them with the given 90kHz timestamp.
func (p *h264Packetizer) packetize(data []byte, timestamp uint32) ([]*rtp.Packet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nalUnits := splitNALUs(data)
	if len(nalUnits) == 0 {
		return nil, fmt.Errorf("no NAL units found in frame")
	}

	var packets []*rtp.Packet
	for i, nalu := range nalUnits {
		isLast := i == len(nalUnits)-1

		if len(nalu) <= p.mtu-12 { // RTP header is 12 bytes
			packets = append(packets, &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         isLast,
					PayloadType:    p.payloadType,
					SequenceNumber: p.sequencer.NextSequenceNumber(),
					Timestamp:      timestamp,
					SSRC:           p.ssrc,
				},
				Payload: nalu,
			})
		} else {
			packets = append(packets, p.fragmentNALUnit(nalu, timestamp, isLast)...)
		}
	}
	return packets, nil
}

// fragmentNALUnit splits a large NAL unit into FU-A packets.
func (p *h264Packetizer) fragmentNALUnit(nalu []byte, timestamp uint32, isLastNALU bool) []*rtp.Packet {
	if len(nalu) == 0 {
		return nil
	}

	nalHeader := nalu[0]
	nalType := nalHeader & 0x1F
	nri := nalHeader & 0x60

	payload := nalu[1:]
	maxPayload := p.mtu - 12 - 2 // RTP header (12) + FU indicator + FU header

	var packets []*rtp.Packet
	offset := 0

	for offset < len(payload) {
		end := offset + maxPayload
		if end > len(payload) {
			end = len(payload)
		}

		isStart := offset == 0
		isEnd := end == len(payload)

		// FU indicator: F=0, NRI from original, Type=28 (FU-A)
		fuIndicator := nri | nalTypeFUA

		// FU header: S=start, E=end, R=0, Type=original NAL type
		fuHeader := nalType
		if isStart {
			fuHeader |= 0x80
		}
		if isEnd {
			fuHeader |= 0x40
		}

		pktPayload := make([]byte, 2+end-offset)
		pktPayload[0] = fuIndicator
		pktPayload[1] = fuHeader
		copy(pktPayload[2:], payload[offset:end])

		// Marker bit only on the last packet of the last NAL unit
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         isEnd && isLastNALU,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      timestamp,
				SSRC:           p.ssrc,
			},
			Payload: pktPayload,
		})

		offset = end
	}

	return packets
}

// rtpTimestamp maps a microsecond PTS onto the 90kHz RTP clock.
func rtpTimestamp(ptsMicros int64) uint32 {
	return uint32(ptsMicros * 90 / 1000)
}

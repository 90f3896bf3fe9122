package mediagraph

import (
	"bytes"
	"testing"
)

func TestPacketizeSingleNALUnits(t *testing.T) {
	p := newH264Packetizer(0x1234, 96, 1200)

	frame := buildAnnexB([][]byte{{0x67, 0x01}, {0x68, 0x02}, {0x65, 0x03}}, nil, nil, false)
	packets, err := p.packetize(frame, 9000)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) != 3 {
		t.Fatalf("got %d packets, want 3", len(packets))
	}

	for i, pkt := range packets {
		if pkt.SSRC != 0x1234 || pkt.PayloadType != 96 {
			t.Fatalf("packet %d header: ssrc=%x pt=%d", i, pkt.SSRC, pkt.PayloadType)
		}
		if pkt.Timestamp != 9000 {
			t.Fatalf("packet %d timestamp = %d, want 9000", i, pkt.Timestamp)
		}
		wantMarker := i == len(packets)-1
		if pkt.Marker != wantMarker {
			t.Fatalf("packet %d marker = %v, want %v", i, pkt.Marker, wantMarker)
		}
	}
	if !bytes.Equal(packets[2].Payload, []byte{0x65, 0x03}) {
		t.Fatalf("last payload = %v", packets[2].Payload)
	}

	// Sequence numbers are consecutive.
	for i := 1; i < len(packets); i++ {
		if packets[i].SequenceNumber != packets[i-1].SequenceNumber+1 {
			t.Fatal("sequence numbers not consecutive")
		}
	}
}

func TestPacketizeFragmentsLargeNALUnit(t *testing.T) {
	const mtu = 100
	p := newH264Packetizer(1, 96, mtu)

	nalu := make([]byte, 500)
	nalu[0] = 0x65 // IDR, NRI=3
	for i := 1; i < len(nalu); i++ {
		nalu[i] = byte(i)
	}
	frame := buildAnnexB([][]byte{nalu}, nil, nil, false)

	packets, err := p.packetize(frame, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(packets) < 2 {
		t.Fatalf("large NAL not fragmented: %d packets", len(packets))
	}

	var reassembled []byte
	for i, pkt := range packets {
		if len(pkt.Payload) > mtu-12 {
			t.Fatalf("packet %d payload %d bytes exceeds MTU budget", i, len(pkt.Payload))
		}

		fuIndicator := pkt.Payload[0]
		fuHeader := pkt.Payload[1]
		if fuIndicator&0x1F != nalTypeFUA {
			t.Fatalf("packet %d indicator type = %d, want FU-A", i, fuIndicator&0x1F)
		}
		if fuHeader&0x1F != nalTypeIDR {
			t.Fatalf("packet %d FU header type = %d, want IDR", i, fuHeader&0x1F)
		}

		isStart := fuHeader&0x80 != 0
		isEnd := fuHeader&0x40 != 0
		if isStart != (i == 0) {
			t.Fatalf("packet %d start bit = %v", i, isStart)
		}
		if isEnd != (i == len(packets)-1) {
			t.Fatalf("packet %d end bit = %v", i, isEnd)
		}
		if pkt.Marker != isEnd {
			t.Fatalf("packet %d marker = %v", i, pkt.Marker)
		}

		if isStart {
			// Reconstruct the NAL header from indicator NRI + header type.
			reassembled = append(reassembled, (fuIndicator&0xE0)|(fuHeader&0x1F))
		}
		reassembled = append(reassembled, pkt.Payload[2:]...)
	}

	if !bytes.Equal(reassembled, nalu) {
		t.Fatal("reassembled NAL unit does not match the original")
	}
}

func TestPacketizeEmptyFrame(t *testing.T) {
	p := newH264Packetizer(1, 96, 1200)
	if _, err := p.packetize(nil, 0); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestRTPTimestampMapping(t *testing.T) {
	// 1 second of microseconds is 90000 ticks of the RTP clock.
	if got := rtpTimestamp(1_000_000); got != 90000 {
		t.Fatalf("rtpTimestamp(1s) = %d, want 90000", got)
	}
	if got := rtpTimestamp(0); got != 0 {
		t.Fatalf("rtpTimestamp(0) = %d, want 0", got)
	}
}

package mediagraph

// H.264 NAL unit types
const (
	nalTypeSlice = 1
	nalTypeIDR   = 5
	nalTypeSEI   = 6
	nalTypeSPS   = 7
	nalTypePPS   = 8
	nalTypeFUA   = 28 // Fragmentation Unit A
)

// splitNALUs parses an Annex B bitstream into individual NAL units.
// Handles both 4-byte (0x00000001) and 3-byte (0x000001) start codes.
func splitNALUs(data []byte) [][]byte {
	var nalUnits [][]byte
	start := -1

	for i := 0; i < len(data); i++ {
		if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			if start >= 0 {
				nalu := data[start:i]
				if len(nalu) > 0 {
					nalUnits = append(nalUnits, nalu)
				}
			}
			start = i + 4
			i += 3
		} else if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if start >= 0 {
				nalu := data[start:i]
				if len(nalu) > 0 {
					nalUnits = append(nalUnits, nalu)
				}
			}
			start = i + 3
			i += 2
		}
	}

	if start >= 0 && start < len(data) {
		nalu := data[start:]
		if len(nalu) > 0 {
			nalUnits = append(nalUnits, nalu)
		}
	}

	return nalUnits
}

// containsIDR reports whether an Annex B bitstream carries an IDR slice.
func containsIDR(data []byte) bool {
	for _, nalu := range splitNALUs(data) {
		if len(nalu) > 0 && nalu[0]&0x1F == nalTypeIDR {
			return true
		}
	}
	return false
}

// extractSPSPPS pulls the first SPS and PPS out of an
// AVCDecoderConfigurationRecord as carried by an FLV/RTMP sequence
// header.
func extractSPSPPS(data []byte) (sps, pps []byte) {
	if len(data) < 8 {
		return
	}
	offset := 5
	numSPS := int(data[offset] & 0x1F)
	offset++

	for i := 0; i < numSPS && offset+2 <= len(data); i++ {
		length := int(data[offset])<<8 | int(data[offset+1])
		offset += 2
		if offset+length <= len(data) {
			sps = make([]byte, length)
			copy(sps, data[offset:offset+length])
			offset += length
		}
	}

	if offset >= len(data) {
		return
	}
	numPPS := int(data[offset])
	offset++

	for i := 0; i < numPPS && offset+2 <= len(data); i++ {
		length := int(data[offset])<<8 | int(data[offset+1])
		offset += 2
		if offset+length <= len(data) {
			pps = make([]byte, length)
			copy(pps, data[offset:offset+length])
			offset += length
		}
	}
	return
}

// parseAVCCNALUs parses length-prefixed AVCC NAL units (4-byte
// big-endian lengths) into individual copies.
func parseAVCCNALUs(data []byte) [][]byte {
	var nalus [][]byte
	for offset := 0; offset+4 <= len(data); {
		length := int(data[offset])<<24 | int(data[offset+1])<<16 | int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4
		if length <= 0 || offset+length > len(data) {
			break
		}
		nalu := make([]byte, length)
		copy(nalu, data[offset:offset+length])
		nalus = append(nalus, nalu)
		offset += length
	}
	return nalus
}

// buildAnnexB assembles NAL units into an Annex B bitstream, prepending
// SPS/PPS on keyframes so the stream is decodable from any keyframe.
func buildAnnexB(nalus [][]byte, sps, pps []byte, isKey bool) []byte {
	sc := []byte{0, 0, 0, 1}
	var out []byte

	if isKey && sps != nil && pps != nil {
		out = append(out, sc...)
		out = append(out, sps...)
		out = append(out, sc...)
		out = append(out, pps...)
	}

	for _, nalu := range nalus {
		out = append(out, sc...)
		out = append(out, nalu...)
	}
	return out
}

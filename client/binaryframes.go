package client

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Binary websocket frames carry image/video data outside the JSON event
// channel. The first 4 bytes are a big-endian frame type:
//
//	type 1: 4-byte subtype (1=preview frame, 2=final PNG, 5=final video)
//	        followed by the raw payload
//	type 4: 4-byte metadata length, that many bytes of metadata, then an
//	        encoded image payload
type FrameKind string

const (
	PreviewFrame         FrameKind = "preview"
	AnimatedPreviewFrame FrameKind = "animated_preview"
	FinalImageFrame      FrameKind = "final_image"
	FinalVideoFrame      FrameKind = "final_video"
)

// BinaryFrame is one decoded out-of-band frame.
type BinaryFrame struct {
	Kind FrameKind
	Data []byte
}

// DecodeBinaryFrame parses a raw binary websocket message. Unknown frame
// types return an error and are dropped by the caller.
func DecodeBinaryFrame(data []byte) (*BinaryFrame, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("binary frame too short: %d bytes", len(data))
	}

	eventType := binary.BigEndian.Uint32(data[:4])
	switch eventType {
	case 1:
		subType := binary.BigEndian.Uint32(data[4:8])
		payload := data[8:]
		switch subType {
		case 1:
			return &BinaryFrame{Kind: PreviewFrame, Data: payload}, nil
		case 2:
			return &BinaryFrame{Kind: FinalImageFrame, Data: payload}, nil
		case 5:
			return &BinaryFrame{Kind: FinalVideoFrame, Data: payload}, nil
		default:
			return nil, fmt.Errorf("unknown binary frame subtype %d", subType)
		}
	case 4:
		metadataLength := binary.BigEndian.Uint32(data[4:8])
		if len(data) < 8+int(metadataLength) {
			return nil, fmt.Errorf("binary frame metadata truncated")
		}
		payload := data[8+metadataLength:]
		if isAnimatedImage(payload) {
			// multi-frame previews are persisted as files rather than
			// pushed to the live preview surface
			return &BinaryFrame{Kind: AnimatedPreviewFrame, Data: payload}, nil
		}
		return &BinaryFrame{Kind: PreviewFrame, Data: payload}, nil
	default:
		return nil, fmt.Errorf("unknown binary frame type %d", eventType)
	}
}

var (
	pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}
	riffMagic    = []byte("RIFF")
	webpMagic    = []byte("WEBP")
)

// isAnimatedImage sniffs for a multi-frame payload: an animated WebP
// (ANIM chunk) or an APNG (acTL chunk before IDAT).
func isAnimatedImage(data []byte) bool {
	if len(data) >= 16 && bytes.Equal(data[:4], riffMagic) && bytes.Equal(data[8:12], webpMagic) {
		return bytes.Contains(data, []byte("ANIM"))
	}
	if len(data) >= 8 && bytes.Equal(data[:8], pngSignature) {
		idat := bytes.Index(data, []byte("IDAT"))
		actl := bytes.Index(data, []byte("acTL"))
		return actl != -1 && (idat == -1 || actl < idat)
	}
	return false
}

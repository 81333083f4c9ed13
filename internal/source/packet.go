package source

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Danmaku wire framing: every packet starts with a 16-byte big-endian
// header of packetLen(u32) headerLen(u16) version(u16) op(u32) seq(u32).
// Version 2 bodies are zlib-compressed aggregates of further packets;
// versions 0 and 1 carry plain JSON.
const danmakuHeaderLen = 16

const (
	opHeartbeat = 2
	opMessage   = 5
	opAuth      = 7
)

func encodePacket(op uint32, body []byte) []byte {
	buf := make([]byte, danmakuHeaderLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(danmakuHeaderLen+len(body)))
	binary.BigEndian.PutUint16(buf[4:6], danmakuHeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], 1)
	binary.BigEndian.PutUint32(buf[8:12], op)
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[danmakuHeaderLen:], body)
	return buf
}

// decodeFrames unpacks one websocket message into its JSON payloads,
// recursing into compressed aggregate frames.
func decodeFrames(data []byte) ([]json.RawMessage, error) {
	var messages []json.RawMessage
	offset := 0

	for offset+danmakuHeaderLen <= len(data) {
		packetLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		headerLen := int(binary.BigEndian.Uint16(data[offset+4 : offset+6]))
		version := binary.BigEndian.Uint16(data[offset+6 : offset+8])

		if packetLen < danmakuHeaderLen || offset+packetLen > len(data) {
			return messages, fmt.Errorf("bad packet length %d", packetLen)
		}
		if headerLen < danmakuHeaderLen || headerLen > packetLen {
			return messages, fmt.Errorf("bad header length %d in packet of %d", headerLen, packetLen)
		}
		body := data[offset+headerLen : offset+packetLen]

		switch version {
		case 2:
			r, err := zlib.NewReader(bytes.NewReader(body))
			if err != nil {
				return messages, fmt.Errorf("open compressed frame: %w", err)
			}
			inner, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				return messages, fmt.Errorf("decompress frame: %w", err)
			}
			nested, err := decodeFrames(inner)
			messages = append(messages, nested...)
			if err != nil {
				return messages, err
			}
		case 0, 1:
			if len(body) > 0 && json.Valid(body) {
				messages = append(messages, json.RawMessage(append([]byte(nil), body...)))
			}
			// Non-JSON system packets (heartbeat replies) are skipped.
		}

		offset += packetLen
	}

	return messages, nil
}

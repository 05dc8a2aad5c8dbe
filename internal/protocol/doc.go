// Package protocol implements the datagram wire format exchanged between
// audio clients and the mixing server.
//
// Every packet starts with an 18-byte header: packet type, protocol version
// and the 16-byte sender id. Audio-class packets follow the header with a
// 16-bit sequence number and a type-specific body. All multi-byte fields are
// little-endian.
//
// Inbound audio:
//
//	microphone: [header][u16 seq][u8 channels][position][orientation][pcm | u16 silent]
//	injected:   [header][u16 seq][16B stream id][position][orientation][f32 radius][f32 attenuation][pcm]
//
// Outbound:
//
//	mixed audio:  [header][u16 seq][stereo pcm]
//	stream stats: [header][u8 append][u16 count][count x 117-byte record]
package protocol

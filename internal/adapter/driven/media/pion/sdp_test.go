package pion

import (
	"strings"
	"testing"
)

func sdpLines(lines ...string) string {
	head := []string{"v=0", "o=- 4242 2 IN IP4 127.0.0.1", "s=-", "t=0 0"}
	return strings.Join(append(head, lines...), "\r\n") + "\r\n"
}

func TestSendsVideo(t *testing.T) {
	tests := []struct {
		name string
		sdp  string
		want bool
	}{
		{"audio only", sdpLines("m=audio 9 UDP/TLS/RTP/SAVPF 111", "a=sendrecv"), false},
		{"video sendrecv", sdpLines("m=audio 9 UDP/TLS/RTP/SAVPF 111", "m=video 9 UDP/TLS/RTP/SAVPF 96", "a=sendrecv"), true},
		{"video default direction", sdpLines("m=video 9 UDP/TLS/RTP/SAVPF 96"), true},
		{"video sendonly", sdpLines("m=video 9 UDP/TLS/RTP/SAVPF 96", "a=sendonly"), true},
		{"video recvonly", sdpLines("m=video 9 UDP/TLS/RTP/SAVPF 96", "a=recvonly"), false},
		{"video inactive", sdpLines("m=video 9 UDP/TLS/RTP/SAVPF 96", "a=inactive"), false},
		{"video rejected", sdpLines("m=video 0 UDP/TLS/RTP/SAVPF 96", "a=sendrecv"), false},
		{"garbage", "not an sdp", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sendsVideo(tt.sdp); got != tt.want {
				t.Errorf("sendsVideo()=%v, want %v", got, tt.want)
			}
		})
	}
}

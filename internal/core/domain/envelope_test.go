package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestUnmarshalEnvelope_BrowserOffer(t *testing.T) {
	raw := `{"kind":"offer","targetId":"Y","caller":{"id":"X","displayName":"Xavier"},"sdp":{"type":"offer","sdp":"v=0\r\n"}}`

	env, err := UnmarshalEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if env.Kind != SignalOffer {
		t.Fatalf("kind=%q, want %q", env.Kind, SignalOffer)
	}
	if env.TargetID != "Y" {
		t.Fatalf("targetId=%q, want Y", env.TargetID)
	}
	if env.From() != "X" {
		t.Fatalf("From()=%q, want X", env.From())
	}
	if env.Caller.DisplayName != "Xavier" {
		t.Fatalf("displayName=%q, want Xavier", env.Caller.DisplayName)
	}
}

func TestUnmarshalEnvelope_DefaultsSDPType(t *testing.T) {
	raw := `{"kind":"answer","targetId":"X","sdp":{"sdp":"v=0\r\n"}}`

	env, err := UnmarshalEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if env.SDP.Type != SDPTypeAnswer {
		t.Fatalf("sdp type=%q, want %q", env.SDP.Type, SDPTypeAnswer)
	}
}

func TestUnmarshalEnvelope_CandidateIsOpaque(t *testing.T) {
	raw := `{"kind":"ice-candidate","targetId":"X","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`

	env, err := UnmarshalEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if !strings.Contains(string(env.Candidate), `"sdpMid":"0"`) {
		t.Fatalf("candidate=%s, want raw payload preserved", env.Candidate)
	}

	out, err := MarshalEnvelope(env)
	if err != nil {
		t.Fatalf("MarshalEnvelope: %v", err)
	}
	if !strings.Contains(string(out), `"candidate":{"candidate":"candidate:1 1 udp`) {
		t.Fatalf("encoded=%s, want candidate object inline", out)
	}
}

func TestUnmarshalEnvelope_Malformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{kind:`},
		{"unknown kind", `{"kind":"renegotiate","targetId":"X"}`},
		{"missing target", `{"kind":"hangup"}`},
		{"offer without caller", `{"kind":"offer","targetId":"Y","sdp":{"type":"offer","sdp":"v=0"}}`},
		{"offer without sdp", `{"kind":"offer","targetId":"Y","caller":{"id":"X"}}`},
		{"answer without sdp", `{"kind":"answer","targetId":"Y"}`},
		{"candidate null", `{"kind":"ice-candidate","targetId":"Y","candidate":null}`},
		{"candidate missing", `{"kind":"ice-candidate","targetId":"Y"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := UnmarshalEnvelope([]byte(tc.raw))
			if !errors.Is(err, ErrMalformedEnvelope) {
				t.Fatalf("err=%v, want ErrMalformedEnvelope", err)
			}
		})
	}
}

func TestMarshalEnvelope_HangupOmitsPayload(t *testing.T) {
	out, err := MarshalEnvelope(NewHangup("X", "Y", "s1"))
	if err != nil {
		t.Fatalf("MarshalEnvelope: %v", err)
	}
	got := string(out)
	for _, field := range []string{"caller", "sdp", "candidate"} {
		if strings.Contains(got, `"`+field+`"`) {
			t.Fatalf("encoded=%s, unexpected field %q", got, field)
		}
	}
	if !strings.Contains(got, `"kind":"hangup"`) || !strings.Contains(got, `"targetId":"X"`) {
		t.Fatalf("encoded=%s, missing kind/targetId", got)
	}
}

func TestMarshalEnvelope_RejectsInvalid(t *testing.T) {
	_, err := MarshalEnvelope(Envelope{Kind: SignalAnswer, TargetID: "X"})
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("err=%v, want ErrMalformedEnvelope", err)
	}
}

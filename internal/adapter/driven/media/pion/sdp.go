package pion

import (
	"github.com/pion/sdp/v3"
)

// sendsVideo reports whether the party that wrote raw offers to send video:
// an enabled video section whose direction is sendrecv or sendonly.
func sendsVideo(raw string) bool {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return false
	}
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media != "video" || m.MediaName.Port.Value == 0 {
			continue
		}
		direction := "sendrecv"
		for _, a := range m.Attributes {
			switch a.Key {
			case "sendrecv", "sendonly", "recvonly", "inactive":
				direction = a.Key
			}
		}
		if direction == "sendrecv" || direction == "sendonly" {
			return true
		}
	}
	return false
}

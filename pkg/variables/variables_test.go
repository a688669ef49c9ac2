package variables

import "testing"

func TestEnv(t *testing.T) {
	t.Setenv(WEBRTC_UDP_PORT, "5004")
	if got := Env(WEBRTC_UDP_PORT, WEBRTC_UDP_PORT_DEFAULT); got != "5004" {
		t.Fatalf("expected 5004, got %s", got)
	}

	t.Setenv(WEBRTC_UDP_PORT, "")
	port, err := ParseInt(Env(WEBRTC_UDP_PORT, WEBRTC_UDP_PORT_DEFAULT))
	if err != nil {
		t.Fatal(err)
	}
	if port != 0 {
		t.Fatalf("expected default port 0, got %d", port)
	}
}

package variables

import (
	"log"
	"os"
	"strconv"
)

const (
	HTTP_PORT_DEFAULT = "8080"
	HTTP_PORT_NAME    = "HTTP_PORT"

	WEBRTC_UDP_PORT         = "WEBRTC_UDP_PORT"
	WEBRTC_UDP_PORT_DEFAULT = "0"

	WEBRTC_ONE_TO_NAT_PUBLIC_IP         = "WEBRTC_ONE_TO_NAT_PUBLIC_IP"
	WEBRTC_ONE_TO_NAT_PUBLIC_IP_DEFAULT = ""

	LOG_LEVEL         = "PEERSTREAM_LOG_LEVEL"
	LOG_LEVEL_DEFAULT = "info"
)

// Env reads an environment variable. The log goes to stderr so it never
// mixes with piped session data.
func Env(variableName, defaultValue string) string {
	if variable := os.Getenv(variableName); variable != "" {
		log.Printf("[%s]: %s", variableName, variable)
		return variable
	}
	log.Printf("[%s_DEFAULT]: %s", variableName, defaultValue)
	return defaultValue
}

func ParseInt(value string) (int, error) {
	return strconv.Atoi(value)
}

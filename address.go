package eshet

import (
	"net"
	"os"
	"strconv"

	"github.com/danmuck/eshet/internal/wire"
)

// EnvServer selects the target server as "host[:port]".
const EnvServer = "ESHET_SERVER"

// ResolveAddress turns an explicit address, the ESHET_SERVER environment
// variable, or nothing into a dialable "host:port". Host defaults to
// localhost, port to the conventional 11236.
func ResolveAddress(explicit string) string {
	addr := explicit
	if addr == "" {
		addr = os.Getenv(EnvServer)
	}
	if addr == "" {
		addr = "localhost"
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(wire.DefaultPort))
	}
	return addr
}

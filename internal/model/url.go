package model

import "fmt"

// BaseURLForPort builds the base address for a backend on the local host.
// All discovered servers are loopback-bound; cross-host routing is out of
// scope.
func BaseURLForPort(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

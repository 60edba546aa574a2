package host

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ownerID identifies this process as a lock holder.
func ownerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s/%d/%s", hostname, os.Getpid(), uuid.NewString()[:8])
}

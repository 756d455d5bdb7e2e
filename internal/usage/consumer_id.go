package usage

import (
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewConsumerID names this process inside the rollup consumer group,
// unique per process start.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "api"
	}
	return strings.ToLower(host + "-" + ulid.Make().String())
}

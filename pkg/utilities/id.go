package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string. Used for request ids.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewUUID returns a random (v4) UUID string, the stable external identifier of projects.
func NewUUID() string {
	return uuid.NewString()
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// NewSnowflakeID returns a time-ordered id from the process-wide node (SNOWFLAKE_NODE, default 1).
// Used to name uploaded objects. Falls back to a KSUID if the node cannot be created.
func NewSnowflakeID() string {
	nodeOnce.Do(func() {
		id := int64(1)
		if v, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64); err == nil {
			id = v
		}
		n, err := snowflake.NewNode(id)
		if err != nil {
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	if node == nil {
		return NewKSUID()
	}
	return node.Generate().String()
}

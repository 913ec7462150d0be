package job

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a short random identifier for anonymous jobs.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

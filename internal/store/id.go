package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tempIDPrefix marks locally-generated message ids. Server ids never start
// with it, so the two id spaces cannot collide.
const tempIDPrefix = "temp_"

// NewTempID generates a temporary message id of the form
// temp_<unixms>_<8 uuid chars>.
func NewTempID() string {
	return fmt.Sprintf("%s%d_%s", tempIDPrefix, time.Now().UnixMilli(), uuid.NewString()[:8])
}

// IsTempID reports whether id belongs to the local temporary id space.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

package facade

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const tempSuffixLen = 9

// TempPrefix marks ids the server has not assigned yet.
const TempPrefix = "temp_"

// newTempID returns temp_<unixMilli>_<suffix>.
func newTempID(now time.Time, suffix string) string {
	return fmt.Sprintf("%s%d_%s", TempPrefix, now.UnixMilli(), suffix)
}

// IsTempID reports whether id was minted locally for an unsynced create.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// randomSuffix returns 9 base36 characters drawn from a random UUID.
func randomSuffix() string {
	u := uuid.New()
	s := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(s) < tempSuffixLen {
		s = strings.Repeat("0", tempSuffixLen-len(s)) + s
	}
	return s[len(s)-tempSuffixLen:]
}

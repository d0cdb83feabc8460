package vault

import (
	"fmt"
	"time"
)

// nowMillis returns the current time as unix milliseconds, the timestamp
// format CreatedAt is stored in.
func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

func errTooLarge(what string) error {
	return fmt.Errorf("%s exceeds its sanity cap", what)
}

func errMissingPayload(fileID [16]byte) error {
	return fmt.Errorf("no payload supplied for entry %x", fileID)
}

func errCapacityExceeded() error {
	return fmt.Errorf("serialized index exceeds computed capacity")
}

package schema

import (
	"errors"
	"fmt"
)

// Decode failures are typed so the caller can distinguish a malformed
// account from a transient fetch problem. They never panic: account data
// arrives from the network and can be truncated or belong to a different
// program entirely.
var (
	ErrBadDiscriminator = errors.New("account discriminator mismatch")
	ErrUnknownOracle    = errors.New("unrecognized oracle type")
)

// TruncatedError reports an account payload shorter (or longer) than the
// fixed record layout requires.
type TruncatedError struct {
	Record string
	Got    int
	Want   int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("%s account data is %d bytes, want %d", e.Record, e.Got, e.Want)
}

func checkLen(record string, data []byte, want int) error {
	if len(data) != want {
		return &TruncatedError{Record: record, Got: len(data), Want: want}
	}
	return nil
}

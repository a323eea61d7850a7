package types

import "time"

// OracleState is the last published value of the settlement oracle for one
// asset. It is read-only input to the pipeline: the tracker hands out copies
// and nothing downstream writes to it.
type OracleState struct {
	Asset      string
	Value      float64
	RoundID    uint64
	AgeSeconds float64 // seconds since the oracle last updated
	UpdatedAt  time.Time
}

package record

import (
	"bytes"
	"fmt"
	"time"

	rsp "github.com/dirkmc/go-namesys/path"
	pb "github.com/dirkmc/go-namesys/pb"
)

// FailedValidationError is returned by SelectBest when every candidate
// was rejected. It carries the number of rejects so callers can
// distinguish "nothing found" from "found only garbage".
type FailedValidationError struct {
	Count int
}

func (e *FailedValidationError) Error() string {
	return fmt.Sprintf("all %d candidate records failed validation", e.Count)
}

// Validate checks a marshaled candidate record end to end: decode,
// recover the public key, verify the v2 signature, check expiry.
func Validate(p rsp.Path, val []byte, now time.Time) (*pb.Entry, error) {
	e, err := pb.Unmarshal(val)
	if err != nil {
		return nil, err
	}

	pubk, err := ExtractPublicKey(p, e)
	if err != nil {
		return nil, err
	}

	if err = Verify(pubk, e); err != nil {
		return nil, err
	}

	if IsExpired(e, now) {
		return nil, ErrExpiredRecord
	}

	return e, nil
}

// SelectBest picks the authoritative record among candidates fetched
// from multiple routers for the same routing key. Candidates that fail
// validation or have expired are discarded before comparison. Among the
// survivors the higher sequence wins; on a sequence tie the later
// validity wins; if both are equal the candidate whose raw encoded
// bytes compare greater wins, so that every node picks the same record.
//
// Returns the winning entry along with its raw encoding.
func SelectBest(p rsp.Path, vals [][]byte, now time.Time) (*pb.Entry, []byte, error) {
	var best *pb.Entry
	var bestVal []byte
	rejected := 0

	for i, val := range vals {
		e, err := Validate(p, val, now)
		if err != nil {
			log.Debugf("discarding candidate %d of %d for %s: %s", i, len(vals), p.Pretty(), err)
			rejected++
			continue
		}

		if best == nil || better(e, val, best, bestVal) {
			best = e
			bestVal = val
		}
	}

	if best == nil {
		return nil, nil, &FailedValidationError{Count: rejected}
	}

	return best, bestVal, nil
}

func better(a *pb.Entry, aval []byte, b *pb.Entry, bval []byte) bool {
	if a.GetSequence() != b.GetSequence() {
		return a.GetSequence() > b.GetSequence()
	}

	at, aerr := Validity(a)
	bt, berr := Validity(b)
	// Both candidates already validated, so this should not happen
	if aerr != nil || berr != nil {
		return aerr == nil
	}
	if !at.Equal(bt) {
		return at.After(bt)
	}

	return bytes.Compare(aval, bval) > 0
}

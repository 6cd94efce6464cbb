package record

// sigV2Tag is the domain-separation prefix for v2 signatures. Signing
// the tagged payload rather than the raw bytes prevents a record
// signature from being replayed as a signature over anything else.
const sigV2Tag = "name-record:"

func dataForSigV2(data []byte) []byte {
	return append([]byte(sigV2Tag), data...)
}

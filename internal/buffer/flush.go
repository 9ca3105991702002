package buffer

// FlushResult reports the outcome of a successful flush, used for usage
// metering and logging. The flush itself is gateway.Session.Flush, which
// needs this package's Buffer locked only around the snapshot/clear step
// and unlocked across the object-store write; that locking discipline
// belongs to Session, not here.
type FlushResult struct {
	Key    string
	Bytes  int
	Deltas int
}

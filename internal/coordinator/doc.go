// Package coordinator runs ingestion passes on a schedule.
//
// The coordinator triggers one run immediately on Start and then one run per
// interval, with a random jitter applied to every interval so that several
// instances sharing a registry do not line up. A tick that fires while a run
// is still active is skipped; runs never overlap.
//
// Every finished run is recorded in a status.Store. Failures of a run or of
// the store are logged and the schedule continues.
//
//	coord := coordinator.New(orch, store, time.Hour)
//	go func() { _ = coord.Start(ctx) }()
//	...
//	_ = coord.Stop()
package coordinator

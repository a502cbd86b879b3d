// Package breaker implements keyed circuit breaking for operation admission.
//
// A [Breaker] tracks consecutive execution failures and moves through three
// states:
//
//	closed → open         (failures reach threshold)
//	open → half_open      (cooldown elapsed)
//	half_open → closed    (probe succeeds)
//	half_open → open      (probe fails; cooldown doubled, capped)
//
// While open, admission fails fast with [governor.ErrCircuitOpen] before any
// queueing or resource evaluation. A half-open breaker admits a bounded
// number of probes; a single successful probe closes it and resets the
// cooldown ladder.
//
// [Manager] keys breakers per category, per tenant, or per (tenant, category)
// pair, creating them on first use. With a [Store] attached, transitions are
// persisted best-effort so that multiple instances sharing a backend observe
// each other's trips.
package breaker

// Package subscription schedules the renewal of long-lived observe
// registrations.
//
// A thing holds two observe registrations on the platform: one for shared
// attribute changes and one for incoming RPC requests. Each has a renewal
// interval and the time it was last sent.
//
// # Renewal States
//
//	Disabled (interval 0)
//	Due       -> send -> Countdown -> Due
//
// A registration that has never been sent is due immediately. After every
// send the renewal time is pushed forward by a random jitter so that things
// sharing a modem do not renew in lockstep.
//
// # Round-Robin
//
// The Scheduler visits one thing per tick. If the shared attribute renewal
// of that thing is due it is returned, otherwise the incoming RPC renewal.
// The cursor only advances when the visited thing has nothing due, so a
// thing with both renewals due is served over two consecutive ticks.
package subscription

// Package persistence keeps device runtime state across restarts.
//
// The platform keeps sending observe notifications with the tokens of the
// registrations it knows about. Persisting the observe tokens of every
// thing lets a rebooted device correlate those notifications before its
// own renewals reach the platform.
package persistence

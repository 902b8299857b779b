// Package profile stores named broker connection profiles in SQLite.
//
// A profile is a ConnectionConfig with a name. At most one profile is the
// default; marking a profile default clears the flag on every other one,
// and deleting the default leaves the store without one. Sessions that
// connect without an explicit config use the default profile.
package profile

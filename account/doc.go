// Package account is the account domain: the Account aggregate, the closed set
// of events recorded about it, the naming of its streams and the canonical
// codec that turns those events into eventstream.EventData and back.
package account

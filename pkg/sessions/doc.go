// Package sessions applies explicit actions to sessions: provisioning,
// user connect and disconnect, completed re-authentication and state
// reports pushed by the gateway. Automated recovery lives in
// pkg/reconciler; both write through pkg/lifecycle so every stored row is a
// valid lifecycle state.
package sessions

// Package state provides the observable key/value store that tether keeps in
// sync with connected clients.
//
// Every mutation happens inside an episode. Episodes nest; dirty keys are
// collected for the whole outermost episode and a single ChangeSet is handed
// to the store's Sink when the outermost episode exits:
//
//	st := state.New()
//	st.Episode(func() error {
//	    st.Set("first", "Ada")
//	    st.Set("last", "Lovelace")
//	    return nil
//	}) // one flush containing both keys
//
// A bare Set is its own episode. Setting a key to a value that encodes to the
// same JSON as the current value is not a change and never reaches the sink.
//
// # Change listeners
//
// OnChange registers callbacks that run after a flush touching the given keys.
// Callbacks run inside a fresh episode, so whatever they mutate is published
// as a follow-up ChangeSet. HoldListeners postpones the callbacks until a
// caller has released its own locks.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Episodes coalesce by depth, so two
// goroutines mutating at the same time share a flush; callers needing strict
// per-episode isolation serialize their episodes (the server does this for
// trigger calls).
package state

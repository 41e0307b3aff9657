// Package tunnel reconciles the operating system's VPN configuration with
// the tunnel state the user asked for.
//
// # Model
//
// Three pieces of state are owned by a single Store:
//
//   - ProviderManagerLoadState: whether the OS VPN profile has been loaded,
//     is absent, is loaded (with its manager handle), or failed to load.
//   - Intent: the declared tunnel state, start (optionally with a pending
//     restart) or stop, tagged with the reason it was set.
//   - Status: the last connection status the OS reported for the loaded
//     manager.
//
// # Reconciliation Flow
//
//  1. A user or system Action is dispatched to the Store.
//  2. Reduce updates the state and returns Effects describing the OS calls,
//     observer registrations and log entries that are now required.
//  3. The Executor runs each Effect off the reducer goroutine.
//  4. Results (load completed, tunnel started, status changed) come back as
//     new Actions and the loop repeats.
//
// Reduce never blocks and makes no OS calls; those are Effects. Its one
// read outside the state is the in-memory ConnectionStatus of a freshly
// loaded manager, taken when a ConfigUpdated action is applied. Tests
// drive Reduce directly with fake managers.
//
// # Invariants
//
//   - Once the first load completes the load state never returns to
//     NonLoaded.
//   - Re-loading an identical manager never registers a second status
//     observer.
//   - At most one profile operation (load, install, remove) is outstanding.
//   - Status changes from a superseded manager are ignored.
//
// # Thread Safety
//
// Store serializes all state mutation on its own goroutine. Dispatch,
// Snapshot and Subscribe are safe for concurrent use.
package tunnel

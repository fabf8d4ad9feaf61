// Package errors provides structured, classified errors for tether.
//
// Every error the engine can surface to a client or an operator maps to a
// registered code:
//
//   - validation (T1xx): values or arguments that cannot be encoded
//   - lookup (T2xx): unknown trigger or controller names
//   - trigger (T3xx): handler failures and registration conflicts
//   - lifecycle (T4xx): operations attempted in the wrong server state
//   - protocol (T5xx): malformed frames and closed transports
//   - config (T6xx): configuration files and values
//
// Classify maps an engine error to its TetherError so the websocket link can
// answer with a code and category instead of a bare message:
//
//	te := errors.Classify(err)
//	// te.Code == "T201", te.Category == errors.CategoryLookup
//
// Format renders the same error for the terminal:
//
//	ERROR T601: Invalid configuration
//
//	  port must be between 0 and 65535
//
//	  Hint: check tether.yaml or the TETHER_PORT variable
package errors

// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the race and global handlers.
// These provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError     = 3000 // Client connected with an unsupported subprotocol.
	InvalidRaceIDError      = 3003 // Race in the WS URL does not exist or the prefix is ambiguous.
	InvalidJoinTokenError   = 3004 // Race requires a join token and the one provided does not match.
	ServiceUnavailableError = 3005 // Race could not be loaded because the store is unavailable.
)

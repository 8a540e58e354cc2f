package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// World routing/state.
	ErrWorldBusy = "E_WORLD_BUSY"

	// Lane operations.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrUnknownLane     = "E_UNKNOWN_LANE"
	ErrLaneFull        = "E_LANE_FULL"
	ErrInvalidPosition = "E_INVALID_POSITION"
	ErrOccupied        = "E_OCCUPIED"
	ErrNothingAtExit   = "E_NOTHING_AT_EXIT"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrWorldBusy:       {},
	ErrBadRequest:      {},
	ErrUnknownLane:     {},
	ErrLaneFull:        {},
	ErrInvalidPosition: {},
	ErrOccupied:        {},
	ErrNothingAtExit:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

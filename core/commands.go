package core

import (
	"sync/atomic"

	"servopio/protocol"
)

// FirmwareState is the configuration handshake state reported by
// get_config.
type FirmwareState struct {
	configCRC  atomic.Uint32
	isShutdown atomic.Bool
	moveCount  uint16
}

var globalState = &FirmwareState{moveCount: 16}

// InitCoreCommands registers the base protocol. identify_response and
// identify must keep ids 0 and 1: the host looks them up before it has a
// dictionary.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")       // 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // 1

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("allocate_oids", "count=%c", handleAllocateOids)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("reset", "", handleReset)
	RegisterCommand("set_debug", "enable=%c", handleSetDebug)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")
	RegisterResponse("shutdown", "clock=%u reason=%*s")

	RegisterConstant("STATS_SUMSQ_BASE", uint32(256))
}

func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	SendResponse("identify_response", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQBytes(out, chunk)
	})
	return nil
}

func handleGetUptime(*[]byte) error {
	up := GetUptime()
	SendResponse("uptime", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(up>>32))
		protocol.EncodeVLQUint(out, uint32(up))
	})
	return nil
}

func handleGetClock(*[]byte) error {
	now := GetTime()
	SendResponse("clock", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, now)
	})
	return nil
}

func handleGetConfig(*[]byte) error {
	crc := globalState.configCRC.Load()
	SendResponse("config", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, boolArg(crc != 0))
		protocol.EncodeVLQUint(out, crc)
		protocol.EncodeVLQUint(out, boolArg(IsShutdown()))
		protocol.EncodeVLQUint(out, uint32(globalState.moveCount))
	})
	return nil
}

// handleConfigReset releases every configured object so the host can send
// a fresh configuration, clearing any shutdown.
func handleConfigReset(*[]byte) error {
	ResetServos()
	resetTimers()
	globalState.configCRC.Store(0)
	globalState.isShutdown.Store(false)
	return nil
}

func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	globalState.configCRC.Store(crc)
	return nil
}

// Object ids index a map, so there is nothing to preallocate.
func handleAllocateOids(data *[]byte) error {
	_, err := protocol.DecodeVLQUint(data)
	return err
}

func handleEmergencyStop(*[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

func handleSetDebug(data *[]byte) error {
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	SetDebugEnabled(enable != 0)
	return nil
}

// TryShutdown stops every servo, latches the shutdown flag and reports
// reason to the host. Further shutdowns are ignored until config_reset.
func TryShutdown(reason string) {
	if globalState.isShutdown.Swap(true) {
		return
	}
	ShutdownAllServos()
	now := GetTime()
	RecordTrace(EvtShutdown, 0, now, 0, 0)
	DumpTrace()
	SendResponse("shutdown", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, now)
		protocol.EncodeVLQString(out, reason)
	})
}

func IsShutdown() bool {
	return globalState.isShutdown.Load()
}

// ResetFirmwareState clears the handshake state when the host reconnects.
func ResetFirmwareState() {
	globalState.configCRC.Store(0)
	globalState.isShutdown.Store(false)
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Sender is the part of protocol.Transport used for responses.
type Sender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

var globalTransport Sender

// SetGlobalTransport installs the transport responses are written to.
func SetGlobalTransport(t Sender) {
	globalTransport = t
}

// SendResponse frames a registered response. Responses are dropped while
// no transport is installed.
func SendResponse(name string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		panic("response not registered: " + name)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

var (
	globalResetHandler func()
	resetPending       atomic.Bool
)

// SetResetHandler installs the target's hardware reset.
func SetResetHandler(h func()) {
	globalResetHandler = h
}

// handleReset only flags the request so the ACK can go out first.
func handleReset(*[]byte) error {
	resetPending.Store(true)
	return nil
}

// CheckPendingReset performs a requested reset. Targets call it after
// flushing output.
func CheckPendingReset() {
	if resetPending.Load() && globalResetHandler != nil {
		globalResetHandler()
	}
}

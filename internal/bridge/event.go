package bridge

// Callback method names invoked on the registered target.
const (
	MethodDeviceDiscovered      = "onDeviceDiscovered"
	MethodStateChanged          = "onStateChanged"
	MethodConnectResult         = "onConnectResult"
	MethodCharacteristicResult  = "onCharacteristicResult"
	MethodBluetoothStateChanged = "onBluetoothStateChanged"
	MethodScanStateChanged      = "onScanStateChanged"
	MethodBlockOperation        = "onBlockOperation"
	MethodBatteryLow            = "onBatteryLow"
	MethodBlockOperationError   = "onBlockOperationError"
	MethodStructureSaved        = "onStructureSaved"
	MethodStructureLoaded       = "onStructureLoaded"
)

// Event is an outbound notification in runtime-neutral form.
// Args hold only nil, bool, int, int64, uint32, float64, string, []byte,
// []string, []any and map[string]any values; runtimes translate them to native values.
type Event struct {
	Method string
	Args   []any
}

// errorCode renders an optional error code argument.
func errorCode(code string) any {
	if code == "" {
		return nil
	}
	return code
}

// DeviceDiscovered builds onDeviceDiscovered(deviceId, advertisementMetadata).
func DeviceDiscovered(id string, metadata map[string]any) Event {
	return Event{Method: MethodDeviceDiscovered, Args: []any{id, metadata}}
}

// StateChanged builds onStateChanged(deviceId, oldState, newState).
func StateChanged(id, oldState, newState string) Event {
	return Event{Method: MethodStateChanged, Args: []any{id, oldState, newState}}
}

// ConnectResult builds onConnectResult(deviceId, success, errorCode?).
func ConnectResult(id string, success bool, code string) Event {
	return Event{Method: MethodConnectResult, Args: []any{id, success, errorCode(code)}}
}

// CharacteristicResult builds onCharacteristicResult(deviceId, which, value, success, errorCode?).
// value carries the raw bytes and, when decoded, the interpreted reading.
func CharacteristicResult(id, which string, value map[string]any, success bool, code string) Event {
	return Event{Method: MethodCharacteristicResult, Args: []any{id, which, value, success, errorCode(code)}}
}

// BluetoothStateChanged builds onBluetoothStateChanged(newState).
func BluetoothStateChanged(state string) Event {
	return Event{Method: MethodBluetoothStateChanged, Args: []any{state}}
}

// ScanStateChanged builds onScanStateChanged(scanning).
func ScanStateChanged(scanning bool) Event {
	return Event{Method: MethodScanStateChanged, Args: []any{scanning}}
}

// BlockOperation builds onBlockOperation(deviceId, operation).
func BlockOperation(id string, operation map[string]any) Event {
	return Event{Method: MethodBlockOperation, Args: []any{id, operation}}
}

// BatteryLow builds onBatteryLow(deviceId, volts).
func BatteryLow(id string, volts float64) Event {
	return Event{Method: MethodBatteryLow, Args: []any{id, volts}}
}

// BlockOperationError builds onBlockOperationError(deviceId, operation, errorCode).
func BlockOperationError(id string, operation map[string]any, code string) Event {
	return Event{Method: MethodBlockOperationError, Args: []any{id, operation, errorCode(code)}}
}

// StructureSaved builds onStructureSaved(deviceId, structureId, path).
func StructureSaved(id, structureID, path string) Event {
	return Event{Method: MethodStructureSaved, Args: []any{id, structureID, path}}
}

// StructureLoaded builds onStructureLoaded(deviceId, structureId, path).
func StructureLoaded(id, structureID, path string) Event {
	return Event{Method: MethodStructureLoaded, Args: []any{id, structureID, path}}
}

package lua

import (
	"fmt"
	"strings"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"

	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/structure"
)

// ModuleName is the global table scripts use to drive the controller.
const ModuleName = "logitow"

// Controller is the subset of the bridge controller exposed to scripts.
type Controller interface {
	StartScan() error
	StopScan() error
	IsScanning() bool
	Connect(id string) (bool, error)
	Disconnect(id string)
	ReadCharacteristic(id string, which device.Characteristic) (bool, error)
	BluetoothState() device.BluetoothState
	Devices() []device.Info
	Structure(id string) (*structure.Structure, error)
	RotateStructure(id string, angles structure.Vec3) error
	SaveStructure(id, path string) (string, error)
	LoadStructure(id, ref string) (*structure.Structure, error)
}

// LogitowAPI binds a Controller into a LuaEngine as the `logitow` module.
type LogitowAPI struct {
	LuaEngine *LuaEngine
	ctl       Controller
	logger    *logrus.Logger
	quit      func()
}

// NewLogitowAPI registers the module in engine. quit is invoked by logitow.quit(); may be nil.
func NewLogitowAPI(engine *LuaEngine, ctl Controller, quit func()) *LogitowAPI {
	api := &LogitowAPI{
		LuaEngine: engine,
		ctl:       ctl,
		logger:    engine.logger,
		quit:      quit,
	}
	engine.AddInitializer(api.register)
	return api
}

// SafePushGoFunction pushes a function name and safe-wrapped Go function onto the Lua stack.
// After calling this, call L.SetTable(-3) to add it to the parent table.
func (api *LogitowAPI) SafePushGoFunction(L *lua.State, name string, fn func(*lua.State) int) {
	L.PushString(name)
	L.PushGoFunction(api.LuaEngine.SafeWrapGoFunction(ModuleName+"."+name+"()", fn))
}

func (api *LogitowAPI) register(L *lua.State) {
	L.NewTable()

	api.registerScanFunctions(L)
	api.registerConnectionFunctions(L)
	api.registerReadVoltage(L)
	api.registerStateFunctions(L)
	api.registerStructureFunctions(L)
	api.registerQuit(L)

	L.SetGlobal(ModuleName)
}

// pushResult pushes the Lua-side outcome of an accept/reject call:
// true on success, or false, error kind, message.
func pushResult(L *lua.State, accepted bool, err error) int {
	if err == nil && accepted {
		L.PushBoolean(true)
		return 1
	}
	L.PushBoolean(false)
	if err == nil {
		L.PushNil()
		L.PushNil()
		return 3
	}
	return 1 + pushError(L, err)
}

// pushError pushes the error kind (or nil) and message of err.
func pushError(L *lua.State, err error) int {
	switch {
	case device.KindOf(err) != "":
		L.PushString(string(device.KindOf(err)))
	case structure.Code(err) != "":
		L.PushString(structure.Code(err))
	default:
		L.PushNil()
	}
	L.PushString(err.Error())
	return 2
}

func checkDeviceID(L *lua.State, fn string) string {
	if !L.IsString(1) {
		L.RaiseError(fmt.Sprintf("%s(device_id) expects a string argument", fn))
		return ""
	}
	return L.ToString(1)
}

func (api *LogitowAPI) registerScanFunctions(L *lua.State) {
	api.SafePushGoFunction(L, "start_scan", func(L *lua.State) int {
		err := api.ctl.StartScan()
		return pushResult(L, err == nil, err)
	})
	L.SetTable(-3)

	api.SafePushGoFunction(L, "stop_scan", func(L *lua.State) int {
		err := api.ctl.StopScan()
		return pushResult(L, err == nil, err)
	})
	L.SetTable(-3)

	api.SafePushGoFunction(L, "is_scanning", func(L *lua.State) int {
		L.PushBoolean(api.ctl.IsScanning())
		return 1
	})
	L.SetTable(-3)
}

func (api *LogitowAPI) registerConnectionFunctions(L *lua.State) {
	api.SafePushGoFunction(L, "connect", func(L *lua.State) int {
		id := checkDeviceID(L, "connect")
		accepted, err := api.ctl.Connect(id)
		return pushResult(L, accepted, err)
	})
	L.SetTable(-3)

	api.SafePushGoFunction(L, "disconnect", func(L *lua.State) int {
		api.ctl.Disconnect(checkDeviceID(L, "disconnect"))
		return 0
	})
	L.SetTable(-3)
}

func (api *LogitowAPI) registerReadVoltage(L *lua.State) {
	api.SafePushGoFunction(L, "read_voltage", func(L *lua.State) int {
		id := checkDeviceID(L, "read_voltage")
		accepted, err := api.ctl.ReadCharacteristic(id, device.CharacteristicVoltage)
		return pushResult(L, accepted, err)
	})
	L.SetTable(-3)
}

func (api *LogitowAPI) registerStateFunctions(L *lua.State) {
	api.SafePushGoFunction(L, "bluetooth_state", func(L *lua.State) int {
		L.PushString(api.ctl.BluetoothState().String())
		return 1
	})
	L.SetTable(-3)

	api.SafePushGoFunction(L, "devices", func(L *lua.State) int {
		L.NewTable()
		for i, info := range api.ctl.Devices() {
			L.PushInteger(int64(i + 1))
			pushDeviceInfo(L, info)
			L.SetTable(-3)
		}
		return 1
	})
	L.SetTable(-3)
}

func (api *LogitowAPI) registerStructureFunctions(L *lua.State) {
	api.SafePushGoFunction(L, "structure", func(L *lua.State) int {
		st, err := api.ctl.Structure(checkDeviceID(L, "structure"))
		if err != nil {
			L.PushNil()
			return 1 + pushError(L, err)
		}
		if err := pushValue(L, st.Summary()); err != nil {
			L.RaiseError(err.Error())
		}
		return 1
	})
	L.SetTable(-3)

	api.SafePushGoFunction(L, "rotate_structure", func(L *lua.State) int {
		id := checkDeviceID(L, "rotate_structure")
		angles := structure.Vec3{
			X: int(L.OptInteger(2, 0)),
			Y: int(L.OptInteger(3, 0)),
			Z: int(L.OptInteger(4, 0)),
		}
		err := api.ctl.RotateStructure(id, angles)
		return pushResult(L, err == nil, err)
	})
	L.SetTable(-3)

	api.SafePushGoFunction(L, "save_structure", func(L *lua.State) int {
		id := checkDeviceID(L, "save_structure")
		path := ""
		if !L.IsNoneOrNil(2) {
			path = L.ToString(2)
		}
		written, err := api.ctl.SaveStructure(id, path)
		if err != nil {
			L.PushNil()
			return 1 + pushError(L, err)
		}
		L.PushString(written)
		return 1
	})
	L.SetTable(-3)

	api.SafePushGoFunction(L, "load_structure", func(L *lua.State) int {
		id := checkDeviceID(L, "load_structure")
		if !L.IsString(2) {
			L.RaiseError("load_structure(device_id, ref) expects a file path or structure id")
			return 0
		}
		st, err := api.ctl.LoadStructure(id, L.ToString(2))
		if err != nil {
			L.PushNil()
			return 1 + pushError(L, err)
		}
		L.PushString(st.ID)
		return 1
	})
	L.SetTable(-3)
}

func (api *LogitowAPI) registerQuit(L *lua.State) {
	api.SafePushGoFunction(L, "quit", func(L *lua.State) int {
		if api.quit != nil {
			api.logger.Debug("Script requested quit")
			api.quit()
		}
		return 0
	})
	L.SetTable(-3)
}

// pushDeviceInfo pushes a device snapshot as a table.
// Stack effect: pushes one table
func pushDeviceInfo(L *lua.State, info device.Info) {
	fields := map[string]any{
		"id":          info.ID,
		"name":        info.Name,
		"state":       info.StateName,
		"rssi":        info.Advertisement.RSSI,
		"local_name":  info.Advertisement.LocalName,
		"connectable": info.Advertisement.Connectable,
		"services":    info.Advertisement.Services,
	}
	if info.Voltage > 0 {
		fields["voltage"] = info.Voltage
	}
	if len(info.Advertisement.ManufacturerData) > 0 {
		fields["manufacturer_data"] = strings.ToUpper(fmt.Sprintf("%x", info.Advertisement.ManufacturerData))
	}
	if info.Advertisement.TxPower != nil {
		fields["tx_power"] = *info.Advertisement.TxPower
	}
	if err := pushValue(L, fields); err != nil {
		L.RaiseError(err.Error())
	}
}

// Close releases the engine
func (api *LogitowAPI) Close() {
	api.logger.WithField("lua_api_ptr", fmt.Sprintf("%p", api)).Debug("Closing LogitowAPI...")
	api.LuaEngine.Close()
}

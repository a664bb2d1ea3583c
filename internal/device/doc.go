// Package device holds the domain vocabulary shared by every layer of the bridge:
// per-device connection states, radio power states, the structured error kinds,
// the Radio contract implemented by hardware adapters, and the tagged event
// variants a Radio reports back.
//
// Nothing in this package talks to hardware. Adapters live in sub-packages
// (see go-ble) and the controller in pkg/controller consumes the contract.
package device

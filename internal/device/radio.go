package device

// Event is a hardware report delivered by a Radio.
// The concrete variants below are the only implementations.
type Event interface {
	isEvent()
}

// DiscoveredEvent reports an advertisement.
// Radios may report the same identifier repeatedly; deduplication is the consumer's job.
type DiscoveredEvent struct {
	ID            string
	Advertisement Advertisement
}

// ConnectResultEvent resolves a Connect call carrying the same token.
// Err is nil on success, in which case Handle and Characteristics describe the live link.
type ConnectResultEvent struct {
	ID              string
	Token           uint64
	Handle          string
	Characteristics []string
	Err             error
}

// DisconnectedEvent reports that a link went down, requested or not.
type DisconnectedEvent struct {
	ID  string
	Err error
}

// CharacteristicResultEvent resolves a Request call carrying the same token.
type CharacteristicResultEvent struct {
	ID    string
	Token uint64
	Which Characteristic
	Value []byte
	Err   error
}

// NotificationEvent carries an unsolicited data-channel notification (block operations).
type NotificationEvent struct {
	ID    string
	Value []byte
}

// RadioStateChangedEvent reports a radio power/authorization transition.
type RadioStateChangedEvent struct {
	State BluetoothState
}

func (DiscoveredEvent) isEvent()           {}
func (ConnectResultEvent) isEvent()        {}
func (DisconnectedEvent) isEvent()         {}
func (CharacteristicResultEvent) isEvent() {}
func (NotificationEvent) isEvent()         {}
func (RadioStateChangedEvent) isEvent()    {}

// EventHandler receives radio events. Radios call it from their own goroutines.
type EventHandler func(Event)

// Radio is the contract between the controller and a BLE central-role stack.
//
// Every method returns promptly: Connect and Request only initiate the operation,
// and the outcome arrives later through the EventHandler with the same token.
// Implementations must tolerate Disconnect for identifiers they do not know.
type Radio interface {
	// State returns the current power/authorization state without side effects.
	State() BluetoothState

	// SetEventHandler installs the sink for hardware events. Called once, before any command.
	SetEventHandler(h EventHandler)

	StartScan() error
	StopScan() error

	// Connect begins a connection attempt to id.
	Connect(id string, token uint64) error

	// Disconnect tears down a link, or aborts an in-flight connection attempt.
	Disconnect(id string) error

	// Request asks a connected device for a characteristic value.
	Request(id string, which Characteristic, token uint64) error

	Close() error
}

package models

// Machine names the signals of the beverage machine the executor drives
type Machine struct {
	DrinkSelect  string   `json:"drink_select"`
	StartSwitch  string   `json:"start_switch"`
	DoubleSwitch string   `json:"double_switch,omitempty"`
	WorkState    string   `json:"work_state,omitempty"`
	FaultSensors []string `json:"fault_sensors"`
}

// Default signal identifiers of a typical network-connected coffee machine
const (
	DefaultDrinkSelect  = "select.coffee_machine_drink_set"
	DefaultStartSwitch  = "switch.coffee_machine_start"
	DefaultDoubleSwitch = "switch.coffee_machine_double"
	DefaultWorkState    = "sensor.coffee_machine_work_state"
)

// DefaultFaultSensors are checked in this order; the first active one wins
var DefaultFaultSensors = []string{
	"binary_sensor.coffee_machine_fault_water_empty",
	"binary_sensor.coffee_machine_fault_residual_full",
	"binary_sensor.coffee_machine_fault_milkcup_missing",
	"binary_sensor.coffee_machine_fault_trashcan_misplaced",
	"binary_sensor.coffee_machine_fault_watertank_misplaced",
	"binary_sensor.coffee_machine_fault_blocking",
	"binary_sensor.coffee_machine_fault_heating_fault",
	"binary_sensor.coffee_machine_fault_nic_fault",
}

// DrinkOptions are the beverages a typical machine advertises
var DrinkOptions = []string{
	"Espresso",
	"Americano",
	"CafeLatte",
	"LatteMacchiato",
	"Ristretto",
	"Doppio",
	"EspressoMacchiato",
	"RistrettoBianco",
	"FlatWhite",
	"Cortado",
	"IcedAmericano",
	"IcedLatte",
	"Hotwater",
	"HotMilk",
	"TravelMug",
	"Cappuccino",
}

// DefaultMachine returns the machine wiring used when nothing is configured
func DefaultMachine() Machine {
	return Machine{
		DrinkSelect:  DefaultDrinkSelect,
		StartSwitch:  DefaultStartSwitch,
		DoubleSwitch: DefaultDoubleSwitch,
		WorkState:    DefaultWorkState,
		FaultSensors: append([]string(nil), DefaultFaultSensors...),
	}
}

package domain

import (
	"fmt"
	"slices"
)

type Module string

const (
	ModuleAccelerometer    Module = "accelerometer"
	ModuleGyroscope        Module = "gyroscope"
	ModuleMagnetometer     Module = "magnetometer"
	ModuleBarometer        Module = "barometer"
	ModuleThermometer      Module = "thermometer"
	ModuleAmbientLight     Module = "ambient_light"
	ModuleHumidity         Module = "humidity"
	ModuleSensorFusion     Module = "sensor_fusion"
	ModuleMechanicalSwitch Module = "mechanical_switch"
)

type Chip string

const (
	ChipNone     Chip = ""
	ChipBMI160   Chip = "bmi160"
	ChipBMI270   Chip = "bmi270"
	ChipBMA255   Chip = "bma255"
	ChipMMA8452Q Chip = "mma8452q"
	ChipBMM150   Chip = "bmm150"
	ChipBMP280   Chip = "bmp280"
	ChipBME280   Chip = "bme280"
	ChipLTR329   Chip = "ltr329"
)

// ThermometerSource is one temperature channel a board exposes.
type ThermometerSource string

const (
	ThermometerOnDie    ThermometerSource = "on_die"
	ThermometerBMP280   ThermometerSource = "bmp280"
	ThermometerExternal ThermometerSource = "external"
	ThermometerPreset   ThermometerSource = "preset"
)

// ThermometerPreference is the order in which channels are picked.
var ThermometerPreference = []ThermometerSource{
	ThermometerOnDie,
	ThermometerBMP280,
	ThermometerExternal,
	ThermometerPreset,
}

type ModuleInfo struct {
	Chip Chip `json:"chip,omitempty"`
	// ordered as the board enumerates them; the index is the channel id
	ThermometerChannels []ThermometerSource `json:"thermometer_channels,omitempty"`
}

type DeviceModules map[Module]ModuleInfo

func (m DeviceModules) Has(module Module) bool {
	_, ok := m[module]
	return ok
}

func (m DeviceModules) Chip(module Module) Chip {
	return m[module].Chip
}

// ThermometerChannel returns the channel index of the preferred thermometer source.
func (m DeviceModules) ThermometerChannel() (int, ThermometerSource, bool) {
	info, ok := m[ModuleThermometer]
	if !ok {
		return 0, "", false
	}
	for _, src := range ThermometerPreference {
		if idx := slices.Index(info.ThermometerChannels, src); idx >= 0 {
			return idx, src, true
		}
	}
	return 0, "", false
}

type Model string

const (
	ModelMetaMotionS     Model = "MetaMotionS"
	ModelMetaMotionRL    Model = "MetaMotionRL"
	ModelMetaMotionC     Model = "MetaMotionC"
	ModelMetaMotionR     Model = "MetaMotionR"
	ModelMetaEnvironment Model = "MetaEnvironment"
	ModelMetaTracker     Model = "MetaTracker"
	ModelMetaWearC       Model = "MetaWearC"
	ModelMetaWearRG      Model = "MetaWearRG"
	ModelMetaWearRPro    Model = "MetaWearRPro"
)

var motionThermometers = []ThermometerSource{ThermometerOnDie, ThermometerExternal, ThermometerBMP280, ThermometerPreset}

var modelModules = map[Model]DeviceModules{
	ModelMetaMotionS: {
		ModuleAccelerometer:    {Chip: ChipBMI270},
		ModuleGyroscope:        {Chip: ChipBMI270},
		ModuleMagnetometer:     {Chip: ChipBMM150},
		ModuleBarometer:        {Chip: ChipBMP280},
		ModuleAmbientLight:     {Chip: ChipLTR329},
		ModuleThermometer:      {ThermometerChannels: []ThermometerSource{ThermometerOnDie, ThermometerExternal, ThermometerBMP280}},
		ModuleSensorFusion:     {},
		ModuleMechanicalSwitch: {},
	},
	ModelMetaMotionRL: {
		ModuleAccelerometer:    {Chip: ChipBMI160},
		ModuleGyroscope:        {Chip: ChipBMI160},
		ModuleMagnetometer:     {Chip: ChipBMM150},
		ModuleThermometer:      {ThermometerChannels: []ThermometerSource{ThermometerOnDie, ThermometerExternal, ThermometerPreset}},
		ModuleSensorFusion:     {},
		ModuleMechanicalSwitch: {},
	},
	ModelMetaMotionC: {
		ModuleAccelerometer:    {Chip: ChipBMI160},
		ModuleGyroscope:        {Chip: ChipBMI160},
		ModuleMagnetometer:     {Chip: ChipBMM150},
		ModuleBarometer:        {Chip: ChipBMP280},
		ModuleAmbientLight:     {Chip: ChipLTR329},
		ModuleThermometer:      {ThermometerChannels: motionThermometers},
		ModuleSensorFusion:     {},
		ModuleMechanicalSwitch: {},
	},
	ModelMetaMotionR: {
		ModuleAccelerometer:    {Chip: ChipBMI160},
		ModuleGyroscope:        {Chip: ChipBMI160},
		ModuleMagnetometer:     {Chip: ChipBMM150},
		ModuleBarometer:        {Chip: ChipBMP280},
		ModuleAmbientLight:     {Chip: ChipLTR329},
		ModuleThermometer:      {ThermometerChannels: motionThermometers},
		ModuleSensorFusion:     {},
		ModuleMechanicalSwitch: {},
	},
	ModelMetaEnvironment: {
		ModuleAccelerometer:    {Chip: ChipBMA255},
		ModuleBarometer:        {Chip: ChipBME280},
		ModuleHumidity:         {Chip: ChipBME280},
		ModuleAmbientLight:     {Chip: ChipLTR329},
		ModuleThermometer:      {ThermometerChannels: []ThermometerSource{ThermometerOnDie, ThermometerExternal, ThermometerBMP280}},
		ModuleMechanicalSwitch: {},
	},
	ModelMetaTracker: {
		ModuleAccelerometer:    {Chip: ChipBMI160},
		ModuleGyroscope:        {Chip: ChipBMI160},
		ModuleBarometer:        {Chip: ChipBME280},
		ModuleHumidity:         {Chip: ChipBME280},
		ModuleAmbientLight:     {Chip: ChipLTR329},
		ModuleThermometer:      {ThermometerChannels: []ThermometerSource{ThermometerOnDie, ThermometerExternal, ThermometerBMP280}},
		ModuleMechanicalSwitch: {},
	},
	ModelMetaWearC: {
		ModuleAccelerometer:    {Chip: ChipBMI160},
		ModuleGyroscope:        {Chip: ChipBMI160},
		ModuleThermometer:      {ThermometerChannels: []ThermometerSource{ThermometerOnDie, ThermometerExternal}},
		ModuleMechanicalSwitch: {},
	},
	ModelMetaWearRG: {
		ModuleAccelerometer:    {Chip: ChipBMI160},
		ModuleGyroscope:        {Chip: ChipBMI160},
		ModuleThermometer:      {ThermometerChannels: []ThermometerSource{ThermometerOnDie, ThermometerExternal}},
		ModuleMechanicalSwitch: {},
	},
	ModelMetaWearRPro: {
		ModuleAccelerometer:    {Chip: ChipMMA8452Q},
		ModuleThermometer:      {ThermometerChannels: []ThermometerSource{ThermometerOnDie, ThermometerExternal, ThermometerPreset}},
		ModuleMechanicalSwitch: {},
	},
}

func ParseModel(s string) (Model, error) {
	m := Model(s)
	if _, ok := modelModules[m]; !ok {
		return "", fmt.Errorf("unknown model %q", s)
	}
	return m, nil
}

// ModelModules returns a copy of the module table of a board model.
func ModelModules(model Model) DeviceModules {
	table := modelModules[model]
	out := make(DeviceModules, len(table))
	for k, v := range table {
		out[k] = v
	}
	return out
}

// DeviceMeta identifies a sensor. The MAC is the identity.
type DeviceMeta struct {
	MAC     string        `json:"mac"`
	Name    string        `json:"name"`
	Model   Model         `json:"model"`
	Modules DeviceModules `json:"modules"`
	GroupId string        `json:"group_id,omitempty"`
}

type Group struct {
	Id   string   `json:"id"`
	Name string   `json:"name"`
	MACs []string `json:"macs"`
}

type DeviceCommand string

const (
	CommandResetActivities DeviceCommand = "reset_activities"
	CommandMacroEraseAll   DeviceCommand = "macro_erase_all"
	CommandRestart         DeviceCommand = "restart"
)

package domain

import "time"

// Signal is one data producing sub-stream of a device.
type Signal string

const (
	SignalAccelerometer      Signal = "Accelerometer"
	SignalGyroscope          Signal = "Gyroscope"
	SignalMagnetometer       Signal = "Magnetometer"
	SignalPressure           Signal = "Pressure"
	SignalAmbientLight       Signal = "AmbientLight"
	SignalHumidity           Signal = "Humidity"
	SignalTemperature        Signal = "Temperature"
	SignalEulerAngles        Signal = "EulerAngles"
	SignalGravity            Signal = "Gravity"
	SignalLinearAcceleration Signal = "LinearAcceleration"
	SignalQuaternion         Signal = "Quaternion"
	SignalButton             Signal = "Button"
)

var fusionSignals = map[FusionOutput]Signal{
	FusionEuler:              SignalEulerAngles,
	FusionGravity:            SignalGravity,
	FusionLinearAcceleration: SignalLinearAcceleration,
	FusionQuaternion:         SignalQuaternion,
}

var signalModules = map[Signal]Module{
	SignalAccelerometer:      ModuleAccelerometer,
	SignalGyroscope:          ModuleGyroscope,
	SignalMagnetometer:       ModuleMagnetometer,
	SignalPressure:           ModuleBarometer,
	SignalAmbientLight:       ModuleAmbientLight,
	SignalHumidity:           ModuleHumidity,
	SignalTemperature:        ModuleThermometer,
	SignalEulerAngles:        ModuleSensorFusion,
	SignalGravity:            ModuleSensorFusion,
	SignalLinearAcceleration: ModuleSensorFusion,
	SignalQuaternion:         ModuleSensorFusion,
	SignalButton:             ModuleMechanicalSwitch,
}

var signalColumns = map[Signal][]string{
	SignalAccelerometer:      {"x-axis (g)", "y-axis (g)", "z-axis (g)"},
	SignalGyroscope:          {"x-axis (deg/s)", "y-axis (deg/s)", "z-axis (deg/s)"},
	SignalMagnetometer:       {"x-axis (T)", "y-axis (T)", "z-axis (T)"},
	SignalPressure:           {"pressure (Pa)"},
	SignalAmbientLight:       {"illuminance (lx)"},
	SignalHumidity:           {"relative humidity (%)"},
	SignalTemperature:        {"temperature (C)"},
	SignalEulerAngles:        {"pitch (deg)", "roll (deg)", "yaw (deg)", "heading (deg)"},
	SignalGravity:            {"x-axis (g)", "y-axis (g)", "z-axis (g)"},
	SignalLinearAcceleration: {"x-axis (g)", "y-axis (g)", "z-axis (g)"},
	SignalQuaternion:         {"w (number)", "x (number)", "y (number)", "z (number)"},
	SignalButton:             {"state"},
}

func (s Signal) Module() Module {
	return signalModules[s]
}

func (s Signal) Columns() []string {
	return signalColumns[s]
}

type Sample struct {
	Time   time.Time
	Values []float64
}

// DataTable holds the samples one signal produced on one device.
type DataTable struct {
	Signal Signal
	Rows   []Sample
}

func (t DataTable) Columns() []string {
	return t.Signal.Columns()
}

// DownloadProgress is one step of a log download. Each step carries the
// records read since the previous one.
type DownloadProgress struct {
	Percent int
	Records map[Signal][]Sample
}

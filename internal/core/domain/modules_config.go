package domain

import (
	"errors"
	"fmt"
)

type RecordingMode string

const (
	ModeLog    RecordingMode = "log"
	ModeStream RecordingMode = "stream"
	ModeRemote RecordingMode = "remote"
)

type FusionMode string

const (
	FusionNDoF    FusionMode = "ndof"
	FusionIMUPlus FusionMode = "imuplus"
)

type FusionOutput string

const (
	FusionEuler              FusionOutput = "euler"
	FusionGravity            FusionOutput = "gravity"
	FusionLinearAcceleration FusionOutput = "linear_acceleration"
	FusionQuaternion         FusionOutput = "quaternion"
)

var FusionOutputs = []FusionOutput{FusionEuler, FusionGravity, FusionLinearAcceleration, FusionQuaternion}

type AccelerometerConfig struct {
	RateHz float64 `json:"rate_hz"`
	RangeG float64 `json:"range_g"`
}

type GyroscopeConfig struct {
	RateHz   float64 `json:"rate_hz"`
	RangeDPS float64 `json:"range_dps"`
}

type MagnetometerConfig struct {
	RateHz float64 `json:"rate_hz"`
}

type BarometerConfig struct {
	StandbyMs float64 `json:"standby_ms"`
}

type AmbientLightConfig struct {
	RateHz float64 `json:"rate_hz"`
	Gain   float64 `json:"gain"`
}

type HumidityConfig struct {
	RateHz float64 `json:"rate_hz"`
}

type ThermometerConfig struct {
	RateHz  float64           `json:"rate_hz"`
	Channel int               `json:"channel"`
	Source  ThermometerSource `json:"source,omitempty"`
}

type FusionConfig struct {
	Mode   FusionMode   `json:"mode"`
	Output FusionOutput `json:"output"`
}

// SensorSelection is what the user asked for, before it is resolved
// against a device.
type SensorSelection struct {
	Accelerometer *AccelerometerConfig `json:"accelerometer,omitempty"`
	Gyroscope     *GyroscopeConfig     `json:"gyroscope,omitempty"`
	Magnetometer  *MagnetometerConfig  `json:"magnetometer,omitempty"`
	Barometer     *BarometerConfig     `json:"barometer,omitempty"`
	AmbientLight  *AmbientLightConfig  `json:"ambient_light,omitempty"`
	Humidity      *HumidityConfig      `json:"humidity,omitempty"`
	// only RateHz is read; the channel is resolved per device
	Thermometer *ThermometerConfig `json:"thermometer,omitempty"`
	Fusion      *FusionOutput      `json:"fusion,omitempty"`
	Button      bool               `json:"button,omitempty"`
}

// ModulesConfiguration is the per-device sensor setup of an action.
type ModulesConfiguration struct {
	Mode          RecordingMode        `json:"mode"`
	Accelerometer *AccelerometerConfig `json:"accelerometer,omitempty"`
	Gyroscope     *GyroscopeConfig     `json:"gyroscope,omitempty"`
	Magnetometer  *MagnetometerConfig  `json:"magnetometer,omitempty"`
	Barometer     *BarometerConfig     `json:"barometer,omitempty"`
	AmbientLight  *AmbientLightConfig  `json:"ambient_light,omitempty"`
	Humidity      *HumidityConfig      `json:"humidity,omitempty"`
	Thermometer   *ThermometerConfig   `json:"thermometer,omitempty"`
	Fusion        *FusionConfig        `json:"fusion,omitempty"`
	Button        bool                 `json:"button"`
}

// Validate reports combinations a board cannot run.
func (c ModulesConfiguration) Validate() error {
	var errs []error
	if c.Fusion != nil {
		if c.Accelerometer != nil || c.Gyroscope != nil || c.Magnetometer != nil {
			errs = append(errs, fmt.Errorf("%w: sensor fusion owns the accelerometer, gyroscope and magnetometer", ErrIllegalParameter))
		}
		if c.Fusion.Mode != FusionNDoF && c.Fusion.Mode != FusionIMUPlus {
			errs = append(errs, fmt.Errorf("%w: fusion mode %q", ErrIllegalParameter, c.Fusion.Mode))
		}
	}
	if c.Mode == ModeRemote && !c.Button {
		errs = append(errs, fmt.Errorf("%w: remote mode requires the button", ErrIllegalParameter))
	}
	return errors.Join(errs...)
}

// Enabled lists the data producing signals in a stable order.
func (c ModulesConfiguration) Enabled() []Signal {
	var out []Signal
	if c.Accelerometer != nil {
		out = append(out, SignalAccelerometer)
	}
	if c.Gyroscope != nil {
		out = append(out, SignalGyroscope)
	}
	if c.Magnetometer != nil {
		out = append(out, SignalMagnetometer)
	}
	if c.Barometer != nil {
		out = append(out, SignalPressure)
	}
	if c.AmbientLight != nil {
		out = append(out, SignalAmbientLight)
	}
	if c.Humidity != nil {
		out = append(out, SignalHumidity)
	}
	if c.Thermometer != nil {
		out = append(out, SignalTemperature)
	}
	if c.Fusion != nil {
		out = append(out, fusionSignals[c.Fusion.Output])
	}
	if c.Button {
		out = append(out, SignalButton)
	}
	return out
}

func (c ModulesConfiguration) IsEmpty() bool {
	return len(c.Enabled()) == 0
}

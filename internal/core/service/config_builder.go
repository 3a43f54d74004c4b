package service

import (
	"errors"
	"fmt"
	"slices"

	"github.com/mbientlab/metabase/internal/core/domain"
)

// BuildModulesConfiguration resolves a user selection against one device.
// The result only depends on its inputs.
func BuildModulesConfiguration(sel domain.SensorSelection, device domain.DeviceModules,
	legal LegalSensorParameters, mode domain.RecordingMode) (domain.ModulesConfiguration, error) {

	cfg := domain.ModulesConfiguration{Mode: mode}
	var errs []error
	check := func(name string, value float64, legalValues []float64) {
		if !slices.Contains(legalValues, value) {
			errs = append(errs, fmt.Errorf("%w: %s %g", domain.ErrIllegalParameter, name, value))
		}
	}

	if s := sel.Accelerometer; s != nil {
		check("accelerometer rate", s.RateHz, legal.AccelerometerRates)
		check("accelerometer range", s.RangeG, legal.AccelerometerRanges)
		v := *s
		cfg.Accelerometer = &v
	}
	if s := sel.Gyroscope; s != nil {
		check("gyroscope rate", s.RateHz, legal.GyroscopeRates)
		check("gyroscope range", s.RangeDPS, legal.GyroscopeRanges)
		v := *s
		cfg.Gyroscope = &v
	}
	if s := sel.Magnetometer; s != nil {
		check("magnetometer rate", s.RateHz, legal.MagnetometerRates)
		v := *s
		cfg.Magnetometer = &v
	}
	if s := sel.Barometer; s != nil {
		check("barometer standby", s.StandbyMs, legal.BarometerStandby)
		v := *s
		cfg.Barometer = &v
	}
	if s := sel.AmbientLight; s != nil {
		check("ambient light rate", s.RateHz, legal.AmbientLightRates)
		check("ambient light gain", s.Gain, legal.AmbientLightGains)
		v := *s
		cfg.AmbientLight = &v
	}
	if s := sel.Humidity; s != nil {
		check("humidity rate", s.RateHz, legal.HumidityRates)
		v := *s
		cfg.Humidity = &v
	}
	if s := sel.Thermometer; s != nil {
		check("thermometer rate", s.RateHz, legal.ThermometerRates)
		if channel, source, ok := device.ThermometerChannel(); ok {
			cfg.Thermometer = &domain.ThermometerConfig{
				RateHz:  s.RateHz,
				Channel: channel,
				Source:  source,
			}
		}
	}
	if out := sel.Fusion; out != nil {
		if !slices.Contains(legal.FusionOutputs, *out) {
			errs = append(errs, fmt.Errorf("%w: fusion output %q", domain.ErrIllegalParameter, *out))
		}
		fusionMode := domain.FusionIMUPlus
		if len(legal.MagnetometerRates) > 0 {
			fusionMode = domain.FusionNDoF
		}
		cfg.Fusion = &domain.FusionConfig{Mode: fusionMode, Output: *out}
	}
	cfg.Button = sel.Button || mode == domain.ModeRemote

	if len(errs) > 0 {
		return domain.ModulesConfiguration{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return domain.ModulesConfiguration{}, err
	}
	return cfg, nil
}

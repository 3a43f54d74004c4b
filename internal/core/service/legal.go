package service

import (
	"slices"

	"github.com/mbientlab/metabase/internal/core/domain"
)

// LegalSensorParameters lists the options every device of a group supports
// at the same time. An empty rate list means the sensor is unavailable.
type LegalSensorParameters struct {
	AccelerometerRates                []float64             `json:"accelerometer_rates"`
	AccelerometerRanges               []float64             `json:"accelerometer_ranges"`
	ShowAccelerometerMixedRateWarning bool                  `json:"show_accelerometer_mixed_rate_warning"`
	GyroscopeRates                    []float64             `json:"gyroscope_rates"`
	GyroscopeRanges                   []float64             `json:"gyroscope_ranges"`
	MagnetometerRates                 []float64             `json:"magnetometer_rates"`
	BarometerStandby                  []float64             `json:"barometer_standby"`
	AmbientLightRates                 []float64             `json:"ambient_light_rates"`
	AmbientLightGains                 []float64             `json:"ambient_light_gains"`
	HumidityRates                     []float64             `json:"humidity_rates"`
	ThermometerRates                  []float64             `json:"thermometer_rates"`
	FusionOutputs                     []domain.FusionOutput `json:"fusion_outputs"`
	MechanicalSwitch                  bool                  `json:"mechanical_switch"`
}

func NewLegalSensorParameters(devices []domain.DeviceModules) LegalSensorParameters {
	var legal LegalSensorParameters
	if len(devices) == 0 {
		return legal
	}

	if allHave(devices, domain.ModuleAccelerometer) {
		chips := distinctChips(devices, domain.ModuleAccelerometer)
		legal.AccelerometerRates = intersectTables(chips, domain.AccelerometerRates)
		legal.AccelerometerRanges = intersectTables(chips, domain.AccelerometerRanges)
		ceilings := make(map[float64]bool)
		lowest := 0.0
		for _, chip := range chips {
			table := domain.AccelerometerRates[chip]
			if len(table) == 0 {
				continue
			}
			c := slices.Max(table)
			if len(ceilings) == 0 || c < lowest {
				lowest = c
			}
			ceilings[c] = true
		}
		if len(ceilings) > 1 {
			legal.ShowAccelerometerMixedRateWarning = true
			legal.AccelerometerRates = slices.DeleteFunc(legal.AccelerometerRates, func(r float64) bool {
				return r > lowest
			})
		}
	}
	if allHave(devices, domain.ModuleGyroscope) {
		chips := distinctChips(devices, domain.ModuleGyroscope)
		legal.GyroscopeRates = intersectTables(chips, domain.GyroscopeRates)
		legal.GyroscopeRanges = intersectTables(chips, domain.GyroscopeRanges)
	}
	if allHave(devices, domain.ModuleMagnetometer) {
		legal.MagnetometerRates = intersectTables(distinctChips(devices, domain.ModuleMagnetometer), domain.MagnetometerRates)
	}
	if allHave(devices, domain.ModuleBarometer) {
		legal.BarometerStandby = intersectTables(distinctChips(devices, domain.ModuleBarometer), domain.BarometerStandby)
	}
	if allHave(devices, domain.ModuleAmbientLight) {
		chips := distinctChips(devices, domain.ModuleAmbientLight)
		legal.AmbientLightRates = intersectTables(chips, domain.AmbientLightRates)
		legal.AmbientLightGains = intersectTables(chips, domain.AmbientLightGains)
	}
	if allHave(devices, domain.ModuleHumidity) {
		legal.HumidityRates = slices.Clone(domain.HumidityRates)
	}
	if allHaveThermometerChannel(devices) {
		legal.ThermometerRates = slices.Clone(domain.ThermometerRates)
	}
	if allHave(devices, domain.ModuleSensorFusion) && len(legal.AccelerometerRates) > 0 && len(legal.GyroscopeRates) > 0 {
		legal.FusionOutputs = slices.Clone(domain.FusionOutputs)
	}
	legal.MechanicalSwitch = allHave(devices, domain.ModuleMechanicalSwitch)

	return legal
}

// Available reports whether the group can record the module at all.
func (p LegalSensorParameters) Available(module domain.Module) bool {
	switch module {
	case domain.ModuleAccelerometer:
		return len(p.AccelerometerRates) > 0
	case domain.ModuleGyroscope:
		return len(p.GyroscopeRates) > 0
	case domain.ModuleMagnetometer:
		return len(p.MagnetometerRates) > 0
	case domain.ModuleBarometer:
		return len(p.BarometerStandby) > 0
	case domain.ModuleAmbientLight:
		return len(p.AmbientLightRates) > 0
	case domain.ModuleHumidity:
		return len(p.HumidityRates) > 0
	case domain.ModuleThermometer:
		return len(p.ThermometerRates) > 0
	case domain.ModuleSensorFusion:
		return len(p.FusionOutputs) > 0
	case domain.ModuleMechanicalSwitch:
		return p.MechanicalSwitch
	}
	return false
}

func allHave(devices []domain.DeviceModules, module domain.Module) bool {
	for _, d := range devices {
		if !d.Has(module) {
			return false
		}
	}
	return true
}

func allHaveThermometerChannel(devices []domain.DeviceModules) bool {
	for _, d := range devices {
		if _, _, ok := d.ThermometerChannel(); !ok {
			return false
		}
	}
	return true
}

func distinctChips(devices []domain.DeviceModules, module domain.Module) []domain.Chip {
	var chips []domain.Chip
	for _, d := range devices {
		chip := d.Chip(module)
		if !slices.Contains(chips, chip) {
			chips = append(chips, chip)
		}
	}
	slices.Sort(chips)
	return chips
}

// intersectTables keeps the values every chip's table lists, sorted ascending.
func intersectTables(chips []domain.Chip, tables map[domain.Chip][]float64) []float64 {
	if len(chips) == 0 {
		return nil
	}
	out := slices.Clone(tables[chips[0]])
	for _, chip := range chips[1:] {
		table := tables[chip]
		out = slices.DeleteFunc(out, func(v float64) bool {
			return !slices.Contains(table, v)
		})
	}
	slices.Sort(out)
	return out
}

package service

import (
	"testing"

	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestLegalNoDevices(t *testing.T) {

	legal := NewLegalSensorParameters(nil)

	for _, m := range []domain.Module{
		domain.ModuleAccelerometer, domain.ModuleGyroscope, domain.ModuleMagnetometer,
		domain.ModuleBarometer, domain.ModuleAmbientLight, domain.ModuleHumidity,
		domain.ModuleThermometer, domain.ModuleSensorFusion, domain.ModuleMechanicalSwitch,
	} {
		assert.False(t, legal.Available(m), "module %s", m)
	}
	assert.False(t, legal.ShowAccelerometerMixedRateWarning)
}

func TestLegalSingleDeviceUsesFullTable(t *testing.T) {

	assert := assert.New(t)

	legal := NewLegalSensorParameters([]domain.DeviceModules{domain.ModelModules(domain.ModelMetaMotionS)})

	assert.Equal(domain.AccelerometerRates[domain.ChipBMI270], legal.AccelerometerRates)
	assert.Equal(domain.GyroscopeRanges[domain.ChipBMI270], legal.GyroscopeRanges)
	assert.Equal(domain.BarometerStandby[domain.ChipBMP280], legal.BarometerStandby)
	assert.Equal(domain.FusionOutputs, legal.FusionOutputs)
	assert.True(legal.MechanicalSwitch)
	assert.False(legal.Available(domain.ModuleHumidity))
	assert.False(legal.ShowAccelerometerMixedRateWarning)
}

func TestLegalMixedAccelerometerChips(t *testing.T) {

	assert := assert.New(t)

	// MMA8452Q tops at 800 Hz, BMA255 at 400 Hz
	legal := NewLegalSensorParameters([]domain.DeviceModules{
		domain.ModelModules(domain.ModelMetaWearRPro),
		domain.ModelModules(domain.ModelMetaEnvironment),
	})

	assert.NotContains(legal.AccelerometerRates, 800.0)
	assert.Contains(legal.AccelerometerRates, 400.0)
	assert.True(legal.ShowAccelerometerMixedRateWarning)
	assert.Equal([]float64{2, 4, 8}, legal.AccelerometerRanges)
}

func TestLegalSameCeilingNoWarning(t *testing.T) {

	legal := NewLegalSensorParameters([]domain.DeviceModules{
		domain.ModelModules(domain.ModelMetaMotionS),
		domain.ModelModules(domain.ModelMetaMotionR),
	})

	assert.False(t, legal.ShowAccelerometerMixedRateWarning)
	assert.Contains(t, legal.AccelerometerRates, 1600.0)
}

func TestLegalIntersectsPresence(t *testing.T) {

	assert := assert.New(t)

	legal := NewLegalSensorParameters([]domain.DeviceModules{
		domain.ModelModules(domain.ModelMetaMotionC),
		domain.ModelModules(domain.ModelMetaWearC),
	})

	assert.True(legal.Available(domain.ModuleAccelerometer))
	assert.True(legal.Available(domain.ModuleGyroscope))
	assert.False(legal.Available(domain.ModuleMagnetometer))
	assert.False(legal.Available(domain.ModuleAmbientLight))
	assert.False(legal.Available(domain.ModuleBarometer))
	// MetaWearC has no fusion firmware
	assert.False(legal.Available(domain.ModuleSensorFusion))
	assert.True(legal.Available(domain.ModuleThermometer))
}

func TestLegalBarometerIntersectsChipTables(t *testing.T) {

	legal := NewLegalSensorParameters([]domain.DeviceModules{
		domain.ModelModules(domain.ModelMetaMotionC),
		domain.ModelModules(domain.ModelMetaTracker),
	})

	assert.Equal(t, []float64{0.5, 62.5, 125, 250, 500, 1000}, legal.BarometerStandby)
}

package domain

// Output data rates (Hz) and ranges each chip supports.

var AccelerometerRates = map[Chip][]float64{
	ChipBMI160:   {12.5, 25, 50, 100, 200, 400, 800, 1600},
	ChipBMI270:   {12.5, 25, 50, 100, 200, 400, 800, 1600},
	ChipMMA8452Q: {12.5, 50, 100, 200, 400, 800},
	ChipBMA255:   {12.5, 25, 50, 100, 200, 400},
}

var AccelerometerRanges = map[Chip][]float64{
	ChipBMI160:   {2, 4, 8, 16},
	ChipBMI270:   {2, 4, 8, 16},
	ChipMMA8452Q: {2, 4, 8},
	ChipBMA255:   {2, 4, 8, 16},
}

var GyroscopeRates = map[Chip][]float64{
	ChipBMI160: {25, 50, 100, 200, 400, 800, 1600, 3200},
	ChipBMI270: {25, 50, 100, 200, 400, 800, 1600, 3200},
}

var GyroscopeRanges = map[Chip][]float64{
	ChipBMI160: {125, 250, 500, 1000, 2000},
	ChipBMI270: {125, 250, 500, 1000, 2000},
}

var MagnetometerRates = map[Chip][]float64{
	ChipBMM150: {10, 15, 20, 25},
}

// BarometerStandby lists standby times in milliseconds.
var BarometerStandby = map[Chip][]float64{
	ChipBMP280: {0.5, 62.5, 125, 250, 500, 1000, 2000, 4000},
	ChipBME280: {0.5, 10, 20, 62.5, 125, 250, 500, 1000},
}

var AmbientLightRates = map[Chip][]float64{
	ChipLTR329: {0.5, 1, 2, 5, 10, 20},
}

var AmbientLightGains = map[Chip][]float64{
	ChipLTR329: {1, 2, 4, 8, 48, 96},
}

// Polled sensors share one table.
var (
	HumidityRates    = []float64{0.1, 0.2, 0.5, 1}
	ThermometerRates = []float64{0.1, 0.2, 0.5, 1, 2, 5}
)

// SensorFusionRate is fixed by the fusion algorithm.
const SensorFusionRate = 100.0

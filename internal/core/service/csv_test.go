package service

import (
	"strings"
	"testing"
	"time"

	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCSV(t *testing.T) {

	require := require.New(t)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	table := domain.DataTable{
		Signal: domain.SignalAccelerometer,
		Rows: []domain.Sample{
			{Time: start, Values: []float64{0.1, 0.2, 1}},
			{Time: start.Add(1500 * time.Millisecond), Values: []float64{0.1, 0.25, 0.98}},
		},
	}

	data, err := EncodeCSV(table, time.UTC)
	require.NoError(err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(lines, 3)
	require.Equal("epoch (ms),time (+00:00),elapsed (s),x-axis (g),y-axis (g),z-axis (g)", lines[0])
	require.Equal("1709287200000,2024-03-01T10.00.00.000,0.000,0.1000,0.2000,1.0000", lines[1])
	require.Equal("1709287201500,2024-03-01T10.00.01.500,1.500,0.1000,0.2500,0.9800", lines[2])
}

func TestTablesToFilesSkipsEmptyTables(t *testing.T) {

	assert := assert.New(t)

	date := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	meta := domain.DeviceMeta{MAC: "F5:6C:BE:D5:61:47", Name: "left"}
	files, err := TablesToFiles(meta, []domain.DataTable{
		{Signal: domain.SignalGyroscope},
		{Signal: domain.SignalPressure, Rows: []domain.Sample{{Time: date, Values: []float64{101325}}}},
	}, date)

	require.NoError(t, err)
	assert.Len(files, 1)
	assert.Equal("left_Pressure_2024-03-01T10.00.00.csv", files[0].Name)
	assert.NotEmpty(files[0].CSV)
}

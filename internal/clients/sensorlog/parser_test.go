package sensorlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

const sampleLog = `# Device: Pixel 7
# Sampling Rate Configured: 50 Hz
# Gyroscope Available: true
# Note: recorded on Carrera 7

timestamp,acc_x,acc_y,acc_z,gyro_x,gyro_y,gps_lat,gps_lng,gps_speed,gps_heading
1700000000040,0.3,0.1,9.9,0.01,0.02,4.6001,-74.0801,8.5,92
1700000000020,0.2,0.1,9.8,0.01,0.02,4.6000,-74.0800,8.4,91
1700000000000,0.1,0.1,9.7,0.01,0.02,4.6000,-74.0800,8.3,90
`

func TestParse_MetadataAndOrder(t *testing.T) {
	table, err := NewReader(nil).Parse(strings.NewReader(sampleLog), "trace1")
	require.NoError(t, err)

	assert.Equal(t, "trace1", table.Name)
	assert.Equal(t, 50.0, table.Metadata.SamplingRate)
	assert.True(t, table.Metadata.Gyroscope)
	assert.Equal(t, "Pixel 7", table.Metadata.Values["Device"])
	assert.Equal(t, "recorded on Carrera 7", table.Metadata.Values["Note"])

	require.Len(t, table.Samples, 3)
	assert.Equal(t, int64(1700000000000), table.Samples[0].Timestamp, "newest-first exports are reversed")
	assert.Equal(t, 0.1, table.Samples[0].AccX)
	assert.Equal(t, 9.9, table.Samples[2].AccZ)
	assert.Equal(t, -74.0801, table.Samples[2].Lon)
	assert.Equal(t, 92.0, table.Samples[2].Heading)
	assert.Equal(t, []int{0, 2}, table.GPSChanged())
}

func TestParse_AscendingKeepsOrder(t *testing.T) {
	log := "#Sampling Rate Configured: 25\ntimestamp,acc_x,acc_z,gps_lat,gps_lng,gps_speed\r\n1,0,0,1,1,0\r\n2,0,0,1,1,0\r\n"
	table, err := NewReader(nil).Parse(strings.NewReader(log), "asc")
	require.NoError(t, err)

	assert.Equal(t, 25.0, table.Metadata.SamplingRate)
	assert.False(t, table.Metadata.Gyroscope)
	require.Len(t, table.Samples, 2)
	assert.Equal(t, int64(1), table.Samples[0].Timestamp)
	assert.Equal(t, 0.0, table.Samples[0].GyroY, "optional columns default to zero")
}

func TestParse_Windows1252(t *testing.T) {
	text := "# Ubicación: Bogotá\n# Sampling Rate Configured: 100Hz\ntimestamp,acc_x,acc_z,gps_lat,gps_lng,gps_speed\n1,0,0,1,1,0\n"
	encoded, err := charmap.Windows1252.NewEncoder().String(text)
	require.NoError(t, err)

	table, err := NewReader(nil).Parse(strings.NewReader(encoded), "latin")
	require.NoError(t, err)
	assert.Equal(t, "Bogotá", table.Metadata.Values["Ubicación"])
	assert.Equal(t, 100.0, table.Metadata.SamplingRate)
}

func TestParse_Errors(t *testing.T) {
	reader := NewReader(nil)

	_, err := reader.Parse(strings.NewReader("# only: metadata\n"), "nohdr")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = reader.Parse(strings.NewReader("timestamp,acc_x\n1,2\n"), "cols")
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "acc_z")

	_, err = reader.Parse(strings.NewReader("timestamp,acc_x,acc_z,gps_lat,gps_lng,gps_speed\n1,x,0,1,1,0\n"), "value")
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "acc_x")
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recway_trip.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))

	table, err := NewReader(nil).ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "recway_trip", table.Name)
	assert.Len(t, table.Samples, 3)

	_, err = NewReader(nil).ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLeadingNumber(t *testing.T) {
	assert.Equal(t, 50.0, leadingNumber("50 Hz"))
	assert.Equal(t, 12.5, leadingNumber("12.5Hz"))
	assert.Equal(t, 0.0, leadingNumber("fast"))
	assert.Equal(t, 0.0, leadingNumber(""))
}

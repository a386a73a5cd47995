package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable_GPSChanged(t *testing.T) {
	table := &Table{Samples: []Sample{
		{Lat: 1, Lon: 1},
		{Lat: 1, Lon: 1},
		{Lat: 1, Lon: 2},
		{Lat: 1, Lon: 2},
		{Lat: 3, Lon: 2},
		{Lat: 1, Lon: 1},
	}}
	assert.Equal(t, []int{0, 2, 4, 5}, table.GPSChanged())
	assert.Nil(t, (&Table{}).GPSChanged())
}

func TestTable_Validate(t *testing.T) {
	var table *Table
	assert.ErrorIs(t, table.Validate(), ErrEmptyTrace)
	assert.ErrorIs(t, (&Table{}).Validate(), ErrEmptyTrace)

	table = &Table{Samples: []Sample{{}}}
	assert.ErrorIs(t, table.Validate(), ErrMissingRate)

	table.Metadata.SamplingRate = 50
	assert.NoError(t, table.Validate())
}

func TestTable_MeanSpeedAndChannels(t *testing.T) {
	table := &Table{Samples: []Sample{
		{Speed: 2, AccX: 1},
		{Speed: 4, AccX: 2},
		{Speed: 9, AccX: 3},
	}}
	assert.Equal(t, 3.0, table.MeanSpeed(0, 2))
	assert.Equal(t, 5.0, table.MeanSpeed(-4, 10))
	assert.Equal(t, 0.0, table.MeanSpeed(2, 2))
	assert.Equal(t, []float64{1, 2, 3}, table.Channel(AccX))

	table.Reverse()
	assert.Equal(t, []float64{3, 2, 1}, table.Channel(AccX))
}

func TestSample_Time(t *testing.T) {
	s := Sample{Timestamp: 1700000000123}
	assert.Equal(t, "2023-11-14T22:13:20.123Z", s.Time().Format(TimeFormat))
}

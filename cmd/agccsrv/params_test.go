package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/agcc/centroid"
)

func writeParams(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agcc_params.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadImageParams(t *testing.T) {
	path := writeParams(t, `
magFit: [-2.5, 25.0]
"1":
  reg: [24, 536, 0, 1033, 536, 1048, 0, 1033]
  badcols: [100, 101]
  satVal: [60000, 62000]
  flatTol: 0.2
  gridSize: 15
"4":
  reg: [0, 512, 0, 512]
  satVal: [50000]
  magFit: [-2.4, 24.0]
`)
	params, err := loadImageParams(path)
	require.NoError(t, err)
	require.Len(t, params, 2)

	p := params[0]
	assert.Equal(t, centroid.Region{X0: 24, X1: 536, Y0: 0, Y1: 1033}, p.Regions[0])
	assert.Equal(t, centroid.Region{X0: 536, X1: 1048, Y0: 0, Y1: 1033}, p.Regions[1])
	assert.Equal(t, []int{100, 101}, p.BadColumns)
	assert.Equal(t, [2]float64{60000, 62000}, p.Saturation)
	assert.Equal(t, 0.2, p.FlatTopTolerance)
	assert.Equal(t, 15, p.GridSize)
	assert.Equal(t, -2.5, p.MagSlope)
	assert.Equal(t, 25.0, p.MagIntercept)

	p = params[3]
	assert.Equal(t, centroid.Region{X1: 512, Y1: 512}, p.Regions[0])
	assert.Equal(t, centroid.Region{}, p.Regions[1])
	assert.Equal(t, [2]float64{50000, 50000}, p.Saturation)
	assert.Equal(t, -2.4, p.MagSlope)
}

func TestLoadImageParamsErrors(t *testing.T) {
	_, err := loadImageParams(writeParams(t, `"7": {reg: [0, 1, 0, 1]}`))
	assert.Error(t, err)

	_, err = loadImageParams(writeParams(t, `"2": {reg: [0, 1, 0]}`))
	assert.Error(t, err)

	_, err = loadImageParams(writeParams(t, `"2": {reg: [0, 8, 0, 8], templates: [missing.fits]}`))
	assert.Error(t, err)

	_, err = loadImageParams(filepath.Join(t.TempDir(), "none.yml"))
	assert.Error(t, err)
}

func TestHalves(t *testing.T) {
	p := halves(1072, 1033)
	assert.Equal(t, centroid.Region{X0: 0, X1: 536, Y0: 0, Y1: 1033}, p.Regions[0])
	assert.Equal(t, centroid.Region{X0: 536, X1: 1072, Y0: 0, Y1: 1033}, p.Regions[1])
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/agcc/agcc"
	"github.com/nasa-jpl/agcc/centroid"
)

// cameraParams is one camera's entry of the image parameter file
type cameraParams struct {
	// Reg is left x0,x1,y0,y1 then right x0,x1,y0,y1
	Reg       []int     `yaml:"reg"`
	BadCols   []int     `yaml:"badcols"`
	SatVal    []float64 `yaml:"satVal"`
	FlatTol   float64   `yaml:"flatTol"`
	MagFit    []float64 `yaml:"magFit"`
	Templates []string  `yaml:"templates"`
	GridSize  int       `yaml:"gridSize"`
}

// paramsFile is the image parameter file: entries keyed "1" through "6" and
// a magFit shared by cameras without their own
type paramsFile struct {
	MagFit  []float64               `yaml:"magFit"`
	Cameras map[string]cameraParams `yaml:",inline"`
}

// loadImageParams reads the image parameter file at path.  Template paths are
// relative to the file.  The result is indexed by 0-based slot.
func loadImageParams(path string) (map[int]centroid.ImageParameters, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf paramsFile
	if err := yml.Unmarshal(b, &pf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	out := make(map[int]centroid.ImageParameters, len(pf.Cameras))
	for key, cp := range pf.Cameras {
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 || n > agcc.NumCameras {
			return nil, fmt.Errorf("%s: camera %q outside 1-%d", path, key, agcc.NumCameras)
		}
		if len(cp.MagFit) == 0 {
			cp.MagFit = pf.MagFit
		}
		ip, err := cp.imageParameters(dir)
		if err != nil {
			return nil, fmt.Errorf("%s: camera %d: %w", path, n, err)
		}
		out[n-1] = ip
	}
	return out, nil
}

func (cp cameraParams) imageParameters(dir string) (centroid.ImageParameters, error) {
	var ip centroid.ImageParameters
	switch len(cp.Reg) {
	case 4, 8:
	default:
		return ip, fmt.Errorf("reg needs 4 or 8 values, got %d", len(cp.Reg))
	}
	for i := 0; i*4 < len(cp.Reg); i++ {
		r := cp.Reg[i*4 : i*4+4]
		ip.Regions[i] = centroid.Region{X0: r[0], X1: r[1], Y0: r[2], Y1: r[3]}
	}
	ip.BadColumns = cp.BadCols
	switch len(cp.SatVal) {
	case 0:
	case 1:
		ip.Saturation = [2]float64{cp.SatVal[0], cp.SatVal[0]}
	default:
		ip.Saturation = [2]float64{cp.SatVal[0], cp.SatVal[1]}
	}
	ip.FlatTopTolerance = cp.FlatTol
	if len(cp.MagFit) >= 2 {
		ip.MagSlope, ip.MagIntercept = cp.MagFit[0], cp.MagFit[1]
	}
	ip.GridSize = cp.GridSize
	for i, name := range cp.Templates {
		if i >= 2 || name == "" {
			continue
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		t, err := centroid.LoadTemplate(name)
		if err != nil {
			return ip, fmt.Errorf("template %d: %w", i+1, err)
		}
		ip.Templates[i] = t
	}
	return ip, nil
}

// halves splits a sensor into left and right readout halves
func halves(width, height int) centroid.ImageParameters {
	mid := width / 2
	return centroid.ImageParameters{Regions: [2]centroid.Region{
		{X0: 0, X1: mid, Y0: 0, Y1: height},
		{X0: mid, X1: width, Y0: 0, Y1: height},
	}}
}

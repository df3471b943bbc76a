package agfits

import (
	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/agcc/centroid"
)

// spotRow is one row of a spot table
type spotRow struct {
	ID         int32   `fits:"spot_id"`
	CentroidX  float64 `fits:"centroid_x"`
	CentroidY  float64 `fits:"centroid_y"`
	M20        float64 `fits:"central_image_moment_20"`
	M11        float64 `fits:"central_image_moment_11"`
	M02        float64 `fits:"central_image_moment_02"`
	PeakX      int32   `fits:"peak_pixel_x"`
	PeakY      int32   `fits:"peak_pixel_y"`
	Peak       float64 `fits:"peak_intensity"`
	Background float64 `fits:"background"`
	Flux       float64 `fits:"flux"`
	Magnitude  float64 `fits:"estimated_magnitude"`
	NPix       int32   `fits:"npix"`
	Flags      int32   `fits:"flags"`
}

var spotColumns = []fitsio.Column{
	{Name: "spot_id", Format: "J"},
	{Name: "centroid_x", Format: "D", Unit: "pix"},
	{Name: "centroid_y", Format: "D", Unit: "pix"},
	{Name: "central_image_moment_20", Format: "D", Unit: "pix2"},
	{Name: "central_image_moment_11", Format: "D", Unit: "pix2"},
	{Name: "central_image_moment_02", Format: "D", Unit: "pix2"},
	{Name: "peak_pixel_x", Format: "J", Unit: "pix"},
	{Name: "peak_pixel_y", Format: "J", Unit: "pix"},
	{Name: "peak_intensity", Format: "D", Unit: "adu"},
	{Name: "background", Format: "D", Unit: "adu"},
	{Name: "flux", Format: "D", Unit: "adu"},
	{Name: "estimated_magnitude", Format: "D", Unit: "mag"},
	{Name: "npix", Format: "J"},
	{Name: "flags", Format: "J"},
}

func toRow(s centroid.Spot) spotRow {
	return spotRow{
		ID:         int32(s.ID),
		CentroidX:  s.CentroidX,
		CentroidY:  s.CentroidY,
		M20:        s.M20,
		M11:        s.M11,
		M02:        s.M02,
		PeakX:      int32(s.PeakX),
		PeakY:      int32(s.PeakY),
		Peak:       s.Peak,
		Background: s.Background,
		Flux:       s.Flux,
		Magnitude:  s.Magnitude,
		NPix:       int32(s.NPix),
		Flags:      int32(s.Flags),
	}
}

// writeSpots appends spots as a binary table named extname
func writeSpots(fits *fitsio.File, extname string, spots []centroid.Spot) error {
	tbl, err := fitsio.NewTable(extname, spotColumns, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()
	for _, s := range spots {
		row := toRow(s)
		if err = tbl.Write(&row); err != nil {
			return err
		}
	}
	return fits.Write(tbl)
}

// ReadSpots reads back a spot table written by this package
func ReadSpots(tbl *fitsio.Table) ([]centroid.Spot, error) {
	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []centroid.Spot
	for rows.Next() {
		var r spotRow
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, centroid.Spot{
			ID:         int(r.ID),
			CentroidX:  r.CentroidX,
			CentroidY:  r.CentroidY,
			M20:        r.M20,
			M11:        r.M11,
			M02:        r.M02,
			PeakX:      int(r.PeakX),
			PeakY:      int(r.PeakY),
			Peak:       r.Peak,
			Background: r.Background,
			Flux:       r.Flux,
			Magnitude:  r.Magnitude,
			NPix:       int(r.NPix),
			Flags:      centroid.Flag(r.Flags),
		})
	}
	return out, rows.Err()
}

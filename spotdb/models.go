package spotdb

import (
	"time"

	"github.com/nasa-jpl/agcc/agcc"
	"github.com/nasa-jpl/agcc/centroid"
)

// Visit is a row of pfs_visit
type Visit struct {
	PfsVisitID  int    `gorm:"column:pfs_visit_id;primaryKey;autoIncrement:false"`
	Description string `gorm:"column:pfs_visit_description"`
}

// TableName is the table Visits live in
func (Visit) TableName() string { return "pfs_visit" }

// Exposure is a row of agc_exposure
type Exposure struct {
	AgcExposureID int       `gorm:"column:agc_exposure_id;primaryKey;autoIncrement:false"`
	PfsVisitID    int       `gorm:"column:pfs_visit_id;index"`
	ExposureTime  float64   `gorm:"column:agc_exptime"`
	TakenAt       time.Time `gorm:"column:taken_at"`
}

// TableName is the table Exposures live in
func (Exposure) TableName() string { return "agc_exposure" }

// Data is a row of agc_data, one spot
type Data struct {
	AgcExposureID int     `gorm:"column:agc_exposure_id;primaryKey;autoIncrement:false"`
	AgcCameraID   int     `gorm:"column:agc_camera_id;primaryKey;autoIncrement:false"`
	SpotID        int     `gorm:"column:spot_id;primaryKey;autoIncrement:false"`
	PfsVisitID    int     `gorm:"column:pfs_visit_id"`
	CentroidX     float64 `gorm:"column:centroid_x_pix"`
	CentroidY     float64 `gorm:"column:centroid_y_pix"`
	PeakX         int     `gorm:"column:peak_pixel_x_pix"`
	PeakY         int     `gorm:"column:peak_pixel_y_pix"`
	M20           float64 `gorm:"column:central_image_moment_20_pix"`
	M02           float64 `gorm:"column:central_image_moment_02_pix"`
	M11           float64 `gorm:"column:central_image_moment_11_pix"`
	Peak          float64 `gorm:"column:peak_intensity"`
	Flux          float64 `gorm:"column:image_moment_00_pix"`
	Background    float64 `gorm:"column:background"`
	Magnitude     float64 `gorm:"column:estimated_magnitude"`
	Flags         int     `gorm:"column:flags"`
}

// TableName is the table spots live in
func (Data) TableName() string { return "agc_data" }

// camera ids in the database are 1-based
func rows(rec agcc.SpotRecord) []Data {
	out := make([]Data, len(rec.Spots))
	for i, s := range rec.Spots {
		out[i] = row(rec, s)
	}
	return out
}

func row(rec agcc.SpotRecord, s centroid.Spot) Data {
	return Data{
		AgcExposureID: rec.FrameID,
		AgcCameraID:   rec.Camera + 1,
		SpotID:        s.ID,
		PfsVisitID:    rec.Visit,
		CentroidX:     s.CentroidX,
		CentroidY:     s.CentroidY,
		PeakX:         s.PeakX,
		PeakY:         s.PeakY,
		M20:           s.M20,
		M02:           s.M02,
		M11:           s.M11,
		Peak:          s.Peak,
		Flux:          s.Flux,
		Background:    s.Background,
		Magnitude:     s.Magnitude,
		Flags:         int(s.Flags),
	}
}

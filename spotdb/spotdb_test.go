package spotdb

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nasa-jpl/agcc/agcc"
	"github.com/nasa-jpl/agcc/centroid"
)

func spotRecord() agcc.SpotRecord {
	return agcc.SpotRecord{
		Visit:        123456,
		FrameID:      42,
		Camera:       2,
		ExposureTime: 2500 * time.Millisecond,
		Taken:        time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
		Spots: []centroid.Spot{
			{ID: 0, CentroidX: 10.5, CentroidY: 20.25, M20: 3, M02: 4, M11: 0.5, PeakX: 10, PeakY: 20, Peak: 900, Flux: 8000, Background: 12, Magnitude: 14.2},
			{ID: 1, CentroidX: 500, CentroidY: 30, Flags: centroid.RightHalf | centroid.Saturated},
		},
	}
}

// dryRun builds statements without a server
func dryRun(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=pfs dbname=opdb sslmode=disable"}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db
}

func TestRows(t *testing.T) {
	rec := spotRecord()
	data := rows(rec)
	require.Len(t, data, 2)
	assert.Equal(t, Data{
		AgcExposureID: 42, AgcCameraID: 3, SpotID: 0, PfsVisitID: 123456,
		CentroidX: 10.5, CentroidY: 20.25, PeakX: 10, PeakY: 20,
		M20: 3, M02: 4, M11: 0.5, Peak: 900, Flux: 8000, Background: 12, Magnitude: 14.2,
	}, data[0])
	assert.Equal(t, int(centroid.RightHalf|centroid.Saturated), data[1].Flags)
	assert.Empty(t, rows(agcc.SpotRecord{}))
}

func TestStatements(t *testing.T) {
	db := dryRun(t)
	rec := spotRecord()

	stmt := insertVisit(db, rec.Visit).Statement
	sql := stmt.SQL.String()
	assert.True(t, strings.HasPrefix(sql, `INSERT INTO "pfs_visit"`), sql)
	assert.Contains(t, sql, "ON CONFLICT DO NOTHING")
	assert.Contains(t, stmt.Vars, interface{}(123456))

	sql = insertExposure(db, rec).Statement.SQL.String()
	assert.Contains(t, sql, `INSERT INTO "agc_exposure"`)
	assert.Contains(t, sql, `"agc_exptime"`)

	stmt = insertBatch(db, rows(rec)).Statement
	sql = stmt.SQL.String()
	assert.Contains(t, sql, `INSERT INTO "agc_data"`)
	assert.Contains(t, sql, `"central_image_moment_20_pix"`)
	assert.Contains(t, sql, "ON CONFLICT DO NOTHING")
	assert.Len(t, stmt.Vars, 2*16)

	assert.NoError(t, insertData(db, nil))
	assert.NoError(t, insertData(db, make([]Data, BatchSize+1)))
}

func TestDSN(t *testing.T) {
	c := Config{Host: "db.pfs", Port: 5432, User: "pfs", DBName: "opdb"}
	assert.Equal(t, "host=db.pfs port=5432 user=pfs dbname=opdb sslmode=disable", c.DSN())
	c.Password, c.SSLMode = "secret", "require"
	assert.Equal(t, "host=db.pfs port=5432 user=pfs dbname=opdb sslmode=require password=secret", c.DSN())
}

func TestConnectGivesUp(t *testing.T) {
	start := time.Now()
	_, err := Connect(Config{Host: "127.0.0.1", Port: 1, User: "pfs", DBName: "opdb", ConnectTimeout: 300 * time.Millisecond}, nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// TestStoreRoundTrip runs against a real server when AGCC_TEST_DSN is set
func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("AGCC_TEST_DSN")
	if dsn == "" {
		t.Skip("AGCC_TEST_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Visit{}, &Exposure{}, &Data{}))
	s := New(db, nil)
	defer s.Close()

	rec := spotRecord()
	rec.FrameID = int(time.Now().Unix())
	require.NoError(t, s.InsertVisit(rec.Visit))
	require.NoError(t, s.InsertVisit(rec.Visit))
	require.NoError(t, s.WriteSpots(rec))
	require.NoError(t, s.WriteSpots(rec))

	var n int64
	require.NoError(t, db.Model(&Data{}).Where("agc_exposure_id = ?", rec.FrameID).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

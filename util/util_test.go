package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/nasa-jpl/agcc/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ExampleParseCameraList() {
	fmt.Println(util.ParseCameraList("136", 6))
	// Output: [0 2 5] <nil>
}

func ExampleParseCameraList_comma() {
	fmt.Println(util.ParseCameraList("2,1,2", 6))
	// Output: [0 1] <nil>
}

func TestParseCameraListRejectsOutOfRange(t *testing.T) {
	_, err := util.ParseCameraList("17", 6)
	require.Error(t, err)
	_, err = util.ParseCameraList("0", 6)
	require.Error(t, err)
	_, err = util.ParseCameraList("a", 6)
	require.Error(t, err)
	_, err = util.ParseCameraList("", 6)
	require.Error(t, err)
}

func TestUniqueInt(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, util.UniqueInt([]int{3, 1, 2, 3, 1}))
}

func TestIntSliceToCSV(t *testing.T) {
	inp := []int{1, 2, 3}
	expected := "1,2,3"
	out := util.IntSliceToCSV(inp)
	if expected != out {
		t.Errorf("expected %s got %s", expected, out)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}

func TestMillisToDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, util.MillisToDuration(1500))
}

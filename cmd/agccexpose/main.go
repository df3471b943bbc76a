// agccexpose takes an exposure through a running agccsrv and prints the
// outcome of every camera.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/agcc/agcchttp"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

func spinner(msg string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " " + msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return s
}

func main() {
	var (
		addr     = flag.String("addr", "http://localhost:8000", "agccsrv address")
		cams     = flag.String("cams", "", "cameras, e.g. 136 or 1,3,6; empty for all")
		exptime  = flag.Float64("t", 1, "exposure time, seconds")
		typ      = flag.String("type", "object", "object, dark or test")
		combined = flag.Bool("combined", false, "write one combined FITS file")
		cent     = flag.Bool("centroid", false, "measure spots")
		method   = flag.String("method", "", "centroid method, win or sep")
		delay    = flag.Int("delay", 0, "delay between camera starts, ms")
		tecoff   = flag.Bool("tecoff", false, "turn the coolers off for the exposure")
		visit    = flag.Int("visit", 0, "PFS visit id")
		version  = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()
	if *version {
		fmt.Printf("agccexpose version %v\n", Version)
		return
	}

	req := agcchttp.ExposeRequest{
		Cameras:      *cams,
		ExposureTime: *exptime,
		Type:         *typ,
		Combined:     *combined,
		Centroid:     *cent,
		Method:       *method,
		Delay:        *delay,
		TECOff:       *tecoff,
		Visit:        *visit,
	}
	b, err := json.Marshal(req)
	if err != nil {
		log.Fatal(err)
	}

	s := spinner(fmt.Sprintf("exposing %.3gs", *exptime))
	s.Start()
	client := &http.Client{Timeout: time.Duration(*exptime*float64(time.Second)) + 2*time.Minute}
	resp, err := client.Post(*addr+"/expose", "application/json", bytes.NewReader(b))
	if err != nil {
		s.StopFailMessage(err.Error())
		s.StopFail()
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		s.StopFailMessage(fmt.Sprintf("%s: %s", resp.Status, bytes.TrimSpace(body)))
		s.StopFail()
		os.Exit(1)
	}
	var reply agcchttp.ExposeReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		s.StopFailMessage(err.Error())
		s.StopFail()
		os.Exit(1)
	}
	s.StopMessage(fmt.Sprintf("frame %d", reply.FrameID))
	s.Stop()

	for _, c := range reply.Cameras {
		line := fmt.Sprintf("cam%d  %-10s %6.3fs", c.Camera, c.Outcome, c.Duration)
		if c.File != "" {
			line += "  " + c.File
		}
		if len(c.Spots) > 0 {
			line += fmt.Sprintf("  %d spots", len(c.Spots))
		}
		if c.Error != "" {
			line += "  " + c.Error
		}
		if c.AnalysisError != "" {
			line += "  analysis: " + c.AnalysisError
		}
		fmt.Println(line)
	}
	if reply.CombinedFile != "" {
		fmt.Println("combined", reply.CombinedFile)
	}
}

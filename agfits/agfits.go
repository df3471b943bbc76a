/*Package agfits writes guide camera frames to FITS files.

Frames are stored as 16 bit integers with BZERO 32768, so the unsigned ADU
values round trip exactly.  A single frame file holds the image in the primary
HDU followed by a SPOTS binary table when the frame was analyzed.  A combined
file has an empty primary HDU and one image extension per camera slot, cam1
through cam6, with an empty extension for each camera that did not take part.
*/
package agfits

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/agcc/agcc"
	"github.com/nasa-jpl/agcc/camera"
	"github.com/nasa-jpl/agcc/centroid"
	"github.com/nasa-jpl/agcc/imgrec"
)

// Instrument is the INSTRUME card value
const Instrument = "PFS AGCC"

// Writer persists frames under the folders of a Recorder
type Writer struct {
	Rec *imgrec.Recorder
	log logrus.FieldLogger
}

// NewWriter returns a Writer storing files under rec.  A nil log uses the
// standard logger.
func NewWriter(rec *imgrec.Recorder, log logrus.FieldLogger) *Writer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Writer{Rec: rec, log: log}
}

// WriteFrame writes one camera's frame to its own file and returns the path
func (w *Writer) WriteFrame(rec agcc.FrameRecord) (string, error) {
	path, err := w.Rec.CameraPath(rec.Camera, rec.Frame.Start)
	if err != nil {
		return "", err
	}
	err = create(path, func(fw io.Writer) error {
		return EncodeFrame(fw, rec)
	})
	if err != nil {
		return "", err
	}
	w.log.WithFields(logrus.Fields{"cam": rec.Camera + 1, "frame": rec.FrameID, "path": path}).Debug("frame written")
	return path, nil
}

// WriteCombined writes every record to one multi-extension file.  seq is the
// 1-based sequence number, 0 outside a sequence.
func (w *Writer) WriteCombined(frameID, seq int, recs []agcc.FrameRecord) (string, error) {
	if len(recs) == 0 {
		return "", fmt.Errorf("frame %d: nothing to write", frameID)
	}
	start := recs[0].Frame.Start
	for _, r := range recs[1:] {
		if r.Frame.Start.Before(start) {
			start = r.Frame.Start
		}
	}
	path, err := w.Rec.SequencePath(seq-1, start)
	if err != nil {
		return "", err
	}
	err = create(path, func(fw io.Writer) error {
		return EncodeCombined(fw, frameID, seq, recs)
	})
	if err != nil {
		return "", err
	}
	w.log.WithFields(logrus.Fields{"seq": seq, "frame": frameID, "path": path, "cams": len(recs)}).Debug("combined frame written")
	return path, nil
}

func create(path string, enc func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := enc(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// EncodeFrame streams a single frame file to w
func EncodeFrame(w io.Writer, rec agcc.FrameRecord) (err error) {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fits.Close(); err == nil {
			err = cerr
		}
	}()
	if err := writeImage(fits, rec.Frame, Cards(rec)); err != nil {
		return err
	}
	if len(rec.Spots) > 0 {
		return writeSpots(fits, "SPOTS", rec.Spots)
	}
	return nil
}

// EncodeCombined streams a combined file to w.  Slots without a record get
// an empty image extension.
func EncodeCombined(w io.Writer, frameID, seq int, recs []agcc.FrameRecord) (err error) {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fits.Close(); err == nil {
			err = cerr
		}
	}()

	var bySlot [agcc.NumCameras]*agcc.FrameRecord
	for i := range recs {
		c := recs[i].Camera
		if c < 0 || c >= agcc.NumCameras {
			return fmt.Errorf("record for camera slot %d", c+1)
		}
		bySlot[c] = &recs[i]
	}

	primary := fitsio.NewImage(8, nil)
	defer primary.Close()
	cards := []fitsio.Card{
		{Name: "INSTRUME", Value: Instrument},
		{Name: "FRAMEID", Value: frameID, Comment: "unique exposure id"},
		{Name: "SEQID", Value: seq, Comment: "sequence number, 0 outside a sequence"},
		{Name: "RUNID", Value: recs[0].RunID},
		{Name: "NCAMS", Value: len(recs), Comment: "cameras taking part"},
	}
	if err = primary.Header().Append(cards...); err != nil {
		return err
	}
	if err = fits.Write(primary); err != nil {
		return err
	}

	for slot, rec := range bySlot {
		name := fmt.Sprintf("cam%d", slot+1)
		if rec == nil {
			im := fitsio.NewImage(16, nil)
			err = im.Header().Append(fitsio.Card{Name: "EXTNAME", Value: name})
			if err == nil {
				err = fits.Write(im)
			}
			im.Close()
			if err != nil {
				return err
			}
			continue
		}
		cards := append([]fitsio.Card{{Name: "EXTNAME", Value: name}}, Cards(*rec)...)
		if err = writeImage(fits, rec.Frame, cards); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for _, rec := range bySlot {
		if rec != nil && len(rec.Spots) > 0 {
			if err = writeSpots(fits, fmt.Sprintf("spots%d", rec.Camera+1), rec.Spots); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cards is the header metadata of one frame
func Cards(rec agcc.FrameRecord) []fitsio.Card {
	shutter := "OPEN"
	if rec.Frame.Dark {
		shutter = "CLOSE"
	}
	return []fitsio.Card{
		{Name: "DATE", Value: rec.Frame.Start.UTC().Format("2006-01-02T15:04:05.0"), Comment: "exposure start (UTC)"},
		{Name: "INSTRUME", Value: Instrument},
		{Name: "CAMERA", Value: rec.Camera + 1, Comment: "camera slot"},
		{Name: "SERIAL", Value: rec.Serial},
		{Name: "MODEL", Value: rec.Model},
		{Name: "EXPTIME", Value: int(rec.ExposureTime / time.Millisecond), Comment: "exposure time (ms)"},
		{Name: "VBIN", Value: rec.Binning.V, Comment: "vertical binning"},
		{Name: "HBIN", Value: rec.Binning.H, Comment: "horizontal binning"},
		{Name: "CCD-TEMP", Value: rec.Temperature, Comment: "CCD temperature (C)"},
		{Name: "SHUTTER", Value: shutter},
		{Name: "CCDAREA", Value: rec.Frame.Area.String(), Comment: "readout area"},
		{Name: "REGION1", Value: rec.Regions[0].String(), Comment: "guide region [x,y,d]"},
		{Name: "REGION2", Value: rec.Regions[1].String(), Comment: "guide region [x,y,d]"},
		{Name: "HALF1", Value: regionString(rec.Halves[0]), Comment: "left readout half"},
		{Name: "HALF2", Value: regionString(rec.Halves[1]), Comment: "right readout half"},
		{Name: "FRAMEID", Value: rec.FrameID},
		{Name: "RUNID", Value: rec.RunID},
	}
}

func regionString(r centroid.Region) string {
	return fmt.Sprintf("[%d:%d,%d:%d]", r.X0, r.X1, r.Y0, r.Y1)
}

// writeImage appends frame as a 16 bit image HDU with an unsigned offset
func writeImage(fits *fitsio.File, f camera.Frame, cards []fitsio.Card) error {
	if f.Width*f.Height != len(f.Data) || f.Empty() {
		return fmt.Errorf("frame %dx%d holds %d pixels", f.Width, f.Height, len(f.Data))
	}
	cards = append(cards, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	im := fitsio.NewImage(16, []int{f.Width, f.Height})
	defer im.Close()
	if err := im.Header().Append(cards...); err != nil {
		return err
	}
	ints := make([]int16, len(f.Data))
	for i, v := range f.Data {
		ints[i] = int16(int32(v) - 32768)
	}
	if err := im.Write(ints); err != nil {
		return err
	}
	return fits.Write(im)
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/agcc/agcc"
	"github.com/nasa-jpl/agcc/agcchttp"
	"github.com/nasa-jpl/agcc/agfits"
	"github.com/nasa-jpl/agcc/camera"
	"github.com/nasa-jpl/agcc/centroid"
	"github.com/nasa-jpl/agcc/imgrec"
	"github.com/nasa-jpl/agcc/notify"
	"github.com/nasa-jpl/agcc/spotdb"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "agccsrv.yml"
	k              = koanf.New(".")
)

type config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// LogLevel is a logrus level name, or off
	LogLevel string `yaml:"LogLevel"`

	// Driver is the registered camera driver, sim for simulated cameras
	Driver string `yaml:"Driver"`

	// Cameras is the serial number of the camera in each slot, 1 through 6.
	// An empty serial leaves the slot unattached.
	Cameras []string `yaml:"Cameras"`

	// Temperature is the CCD setpoint programmed at attach
	Temperature float64 `yaml:"Temperature"`

	// TECOffSetpoint is the setpoint of TEC-off exposures
	TECOffSetpoint float64 `yaml:"TECOffSetpoint"`

	// DataRoot is where frames and the frame counter are written
	DataRoot string `yaml:"DataRoot"`

	// DateFolders puts frames in a yyyy-mm-dd folder under DataRoot
	DateFolders bool `yaml:"DateFolders"`

	// ImageParams is the per-camera image parameter file
	ImageParams string `yaml:"ImageParams"`

	// Centroid holds the default centroid parameters
	Centroid centroid.Parameters `yaml:"Centroid"`

	// Database is the spot database; an empty Host disables it
	Database spotdb.Config `yaml:"Database"`

	// MQTT is the status broker; an empty Broker disables it
	MQTT notify.MQTTConfig `yaml:"MQTT"`

	// Kafka archives status keywords; no Brokers disables it
	Kafka notify.KafkaConfig `yaml:"Kafka"`

	// Sim configures the cameras of the sim driver
	Sim camera.SimConfig `yaml:"Sim"`
}

func defaults() config {
	return config{
		Addr:           ":8000",
		LogLevel:       "info",
		Driver:         "sim",
		Cameras:        []string{"SIM1", "SIM2", "SIM3", "SIM4", "SIM5", "SIM6"},
		Temperature:    -30,
		TECOffSetpoint: 25,
		DataRoot:       "/data/raw/agcc",
		DateFolders:    true,
		Centroid:       centroid.DefaultParameters(),
		Database: spotdb.Config{
			Port:           5432,
			User:           "pfs",
			DBName:         "opdb",
			ConnectTimeout: 10 * time.Second,
		},
		MQTT:  notify.MQTTConfig{Topic: "agcc", Rate: 50, Burst: 20},
		Kafka: notify.KafkaConfig{Topic: "agcc_keywords"},
		Sim: camera.SimConfig{
			Width:   camera.SimWidth,
			Height:  camera.SimHeight,
			Readout: camera.SimReadout,
			Bias:    1000,
			Noise:   5,
			Stars:   []camera.Star{{X: 300, Y: 500, Sigma: 2, Peak: 8000}, {X: 800, Y: 400, Sigma: 2.5, Peak: 5000}},
		},
	}
}

func setupconfig() {
	k.Load(structs.Provider(defaults(), "yaml"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconfig() config {
	c := config{}
	err := k.UnmarshalWithConf("", &c, koanf.UnmarshalConf{Tag: "yaml"})
	if err != nil {
		log.Fatal(err)
	}
	// secrets stay out of the yaml
	if pw := os.Getenv("AGCC_DB_PASSWORD"); pw != "" {
		c.Database.Password = pw
	}
	if pw := os.Getenv("AGCC_MQTT_PASSWORD"); pw != "" {
		c.MQTT.Password = pw
	}
	return c
}

func root() {
	str := `agccsrv controls the PFS acquisition and guide cameras and exposes them over HTTP.
Exposures run on every camera in parallel, frames are written to FITS files,
and spots measured in them go to the operational database.

Usage:
	agccsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `agccsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used, which attach six
simulated cameras.  The command mkconf generates the configuration file with
the default values.

A .env file in the working directory is loaded before the configuration.
AGCC_DB_PASSWORD and AGCC_MQTT_PASSWORD override the passwords of the file.

ImageParams names a YAML file with one entry per camera number:
	"1":
	  reg: [x0, x1, y0, y1, x0, x1, y0, y1]
	  badcols: [..]
	  satVal: [left, right]
	  flatTol: 0.2
	  templates: [left.fits, right.fits]
	  gridSize: 21
	magFit: [slope, intercept]
Cameras without an entry are split into two halves down the middle.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("agccsrv version %v\n", Version)
}

func newLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	if level == "off" || level == "none" {
		l.SetLevel(logrus.PanicLevel)
		return l
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// connector attaches the configured cameras.  The sim driver is built from
// the Sim section instead of its registered defaults.
func connector(cfg config, params map[int]centroid.ImageParameters, log logrus.FieldLogger) agcc.ConnectFunc {
	return func(reg *agcc.Registry) error {
		var drv camera.Driver
		if strings.EqualFold(cfg.Driver, "sim") {
			drv = camera.SimDriver(cfg.Sim)
		} else {
			var err error
			drv, err = camera.Lookup(cfg.Driver)
			if err != nil {
				return err
			}
		}
		attached := 0
		for i, serial := range cfg.Cameras {
			if i >= agcc.NumCameras {
				log.WithField("serial", serial).Warn("more cameras configured than slots, ignored")
				break
			}
			if serial == "" {
				continue
			}
			clog := log.WithFields(logrus.Fields{"cam": i + 1, "serial": serial})
			h, err := drv(i, serial)
			if err != nil {
				clog.WithField("err", err).Error("camera not found")
				continue
			}
			ip, ok := params[i]
			if !ok {
				ip = halves(cfg.Sim.Width, cfg.Sim.Height)
				if !strings.EqualFold(cfg.Driver, "sim") {
					ip = centroid.ImageParameters{}
					clog.Warn("no image parameters, spots will not be measured")
				}
			}
			if err := reg.Attach(i, h, ip, cfg.Temperature); err != nil {
				clog.WithField("err", err).Error("attaching camera")
				continue
			}
			clog.Info("camera attached")
			attached++
		}
		if attached == 0 {
			return agcc.ErrNoCameraAvailable
		}
		return nil
	}
}

func run() {
	cfg := loadconfig()
	lg := newLogger(cfg.LogLevel)

	params := map[int]centroid.ImageParameters{}
	if cfg.ImageParams != "" {
		var err error
		params, err = loadImageParams(cfg.ImageParams)
		if err != nil {
			lg.WithField("err", err).Fatal("loading image parameters")
		}
	}

	if err := os.MkdirAll(cfg.DataRoot, 0777); err != nil {
		lg.WithField("err", err).Fatal("creating data root")
	}
	rec := &imgrec.Recorder{Root: cfg.DataRoot, DateFolders: cfg.DateFolders}
	counter := imgrec.NewCounter(cfg.DataRoot)
	lg.WithFields(logrus.Fields{"root": cfg.DataRoot, "counter": counter.Path()}).Info("writing frames")

	notifiers := notify.Multi{notify.Log{Log: lg.WithField("component", "notify")}}
	var broker *notify.MQTT
	if cfg.MQTT.Broker != "" {
		var err error
		broker, err = notify.DialMQTT(cfg.MQTT, lg)
		if err != nil {
			lg.WithField("err", err).Warn("status broker unavailable, keywords are only logged")
		} else {
			notifiers = append(notifiers, broker)
		}
	}
	var archive *notify.Kafka
	if len(cfg.Kafka.Brokers) > 0 {
		archive = notify.DialKafka(cfg.Kafka, lg)
		notifiers = append(notifiers, archive)
		lg.WithFields(logrus.Fields{"brokers": cfg.Kafka.Brokers, "topic": cfg.Kafka.Topic}).Info("archiving keywords to Kafka")
	}

	var spots agcc.SpotSink
	var store *spotdb.Store
	if cfg.Database.Host != "" {
		var err error
		store, err = spotdb.Connect(cfg.Database, lg)
		if err != nil {
			lg.WithField("err", err).Warn("spot database unavailable, spots will not be stored")
		} else {
			spots = store
		}
	}

	reg := agcc.NewRegistry(lg)
	connect := connector(cfg, params, lg)
	orc := agcc.New(reg, agcc.Options{
		Frames:         agfits.NewWriter(rec, lg),
		Spots:          spots,
		Notify:         notifiers,
		Counter:        counter,
		Log:            lg,
		Parameters:     cfg.Centroid,
		TECOffSetpoint: cfg.TECOffSetpoint,
		Connect:        connect,
	})
	if err := connect(reg); err != nil {
		lg.WithField("err", err).Warn("no cameras attached, use reconnect once they are available")
	}

	srv := agcchttp.NewServer(orc, lg)
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Mount("/", srv.Router())
	hs := &http.Server{Addr: cfg.Addr, Handler: r}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		lg.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hs.Shutdown(ctx)
	}()

	lg.WithFields(logrus.Fields{"addr": cfg.Addr, "cams": len(reg.Attached(nil))}).Info("now listening for requests")
	if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		lg.WithField("err", err).Error("http server")
	}
	if err := orc.Close(); err != nil {
		lg.WithField("err", err).Warn("closing cameras")
	}
	if broker != nil {
		broker.Close()
	}
	if archive != nil {
		if err := archive.Close(); err != nil {
			lg.WithField("err", err).Warn("closing Kafka writer")
		}
	}
	if store != nil {
		store.Close()
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	// a missing .env is normal
	godotenv.Load()
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}

package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/curbz/tpxplane/internal/monitor"
	"github.com/curbz/tpxplane/internal/statesfile"
	"github.com/curbz/tpxplane/internal/tpsink"
	"github.com/curbz/tpxplane/internal/xplane"
	"github.com/curbz/tpxplane/pkg/util"
)

type config struct {
	XPlane struct {
		BeaconGroup string `yaml:"beacon_group"`
		BeaconPort  int    `yaml:"beacon_port"`
	} `yaml:"xplane"`
	States struct {
		File string `yaml:"file"`
	} `yaml:"states"`
	Monitor struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"monitor"`
	FMA struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"fma"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "configuration file")
	statesPath := flag.String("states", "", "dynamic states file (overrides configuration)")
	debug := flag.Bool("d", false, "use debug logging")
	warn := flag.Bool("w", false, "only log warnings and errors")
	quiet := flag.Bool("q", false, "disable all logging")
	flag.Parse()

	cfg := &config{}
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := util.LoadConfig[config](*configPath)
		if err != nil {
			logrus.Fatalf("error reading configuration file: %v", err)
		}
		cfg = loaded
	}

	setupLogging(cfg, *debug, *warn, *quiet)

	states := cfg.States.File
	if *statesPath != "" {
		states = *statesPath
	}
	if states == "" {
		states = statesfile.DefaultFileName
	}

	var sink tpsink.StateSink = tpsink.NewLogSink()
	var mon *monitor.Server
	if cfg.Monitor.ListenAddr != "" {
		mon = monitor.New(cfg.Monitor.ListenAddr)
		mon.Start()
		sink = tpsink.Fanout{sink, mon}
	}

	// static states, declared up front so clients see them before connecting
	sink.CreateState(tpsink.StateXPlaneConnected, "X-Plane running", tpsink.IntFalse)
	sink.CreateState(tpsink.StateConnMonitorRunning, "Connection Monitor running", tpsink.IntFalse)
	sink.CreateState(tpsink.StateDrefMonitorRunning, "Dataref Monitor running", tpsink.IntFalse)

	client := xplane.New(sink, xplane.Options{
		BeaconGroup: cfg.XPlane.BeaconGroup,
		BeaconPort:  cfg.XPlane.BeaconPort,
		StatesFile:  states,
		EnableFMA:   cfg.FMA.Enabled,
	})

	logrus.Infof("starting Touch Portal X-Plane UDP bridge")
	if err := client.Init(); err != nil {
		logrus.Warnf("init: %v", err)
	}
	if f := client.CurrentStates(); f != nil {
		for _, page := range f.Pages {
			logrus.Infof("page %s: %d states", page.Name, len(page.States))
		}
	}

	watcher := watchStatesFile(client, states)
	if watcher != nil {
		defer watcher.Close()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logrus.Info("terminating X-Plane client..")
	client.Terminate()
	if mon != nil {
		mon.Stop()
	}
	logrus.Info("..stopped")
}

func setupLogging(cfg *config, debug, warn, quiet bool) {
	switch {
	case quiet:
		logrus.SetLevel(logrus.PanicLevel)
	case debug:
		logrus.SetLevel(logrus.DebugLevel)
	case warn:
		logrus.SetLevel(logrus.WarnLevel)
	default:
		if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil && cfg.Log.Level != "" {
			logrus.SetLevel(level)
		} else {
			logrus.SetLevel(logrus.InfoLevel)
		}
	}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logrus.Warnf("cannot open log file %s: %v", cfg.Log.File, err)
			return
		}
		logrus.SetOutput(f)
	}
}

// watchStatesFile reloads the dynamic states on every write to the file,
// debounced: editors fire several events per save.
func watchStatesFile(client *xplane.Client, path string) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.Warnf("cannot watch states file: %v", err)
		return nil
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		logrus.Warnf("cannot watch %s: %v", dir, err)
		watcher.Close()
		return nil
	}
	abs, _ := filepath.Abs(path)

	go func() {
		var timer *time.Timer
		for {
			select {
			case e, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, _ := filepath.Abs(e.Name)
				if name != abs || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(500*time.Millisecond, func() {
					logrus.Infof("states file changed, reloading")
					if err := client.Reinit(path); err != nil {
						logrus.Warnf("reload failed: %v", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.Warnf("states file watcher: %v", err)
			}
		}
	}()
	return watcher
}

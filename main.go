package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/damage-inspection-service/config"
	"github.com/Tutortoise/damage-inspection-service/emitter"
	"github.com/Tutortoise/damage-inspection-service/pipeline"
	"github.com/Tutortoise/damage-inspection-service/recording"
	"github.com/Tutortoise/damage-inspection-service/source"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

func initLogger(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetReportCaller(true)
	log.SetOutput(os.Stdout)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func main() {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := initLogger(cfg.Debug)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	state := newAppState(ctx, cfg, log)

	// A model load failure leaves the server up so clients see the error.
	engine, err := loadEngine(cfg, log)
	if err != nil {
		state.LoadErr = err
		log.WithError(err).Error(MsgModelUnavailable)
	} else {
		defer ort.DestroyEnvironment()
		defer engine.Destroy()
		state.Pipeline = engine.Pipeline
		state.Pools = engine.Pools
	}

	if cfg.Recording.Enabled {
		state.Format, state.FormatErr = negotiateFormat(cfg.Recording)
		if state.FormatErr != nil {
			log.WithError(state.FormatErr).Warn("recording disabled")
		} else {
			log.WithField("format", state.Format.Name).Info("recording format negotiated")
		}
	}

	if cfg.MQTT.Broker != "" {
		state.MQTT, err = emitter.New(emitter.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Codec:       cfg.MQTT.Codec,
			QoS:         cfg.MQTT.QoS,
		}, log)
		if err != nil {
			log.Fatalf("Failed to create mqtt emitter: %v", err)
		}
		if err := state.MQTT.Connect(ctx); err != nil {
			log.WithError(err).Warn("mqtt unavailable, blueprint events will only be served over HTTP")
		}
		defer state.MQTT.Disconnect()
	}

	var writeTimeout time.Duration
	if cfg.Server.WriteTimeoutS > 0 {
		writeTimeout = time.Duration(cfg.Server.WriteTimeoutS) * time.Second
	}
	srv := &http.Server{
		Handler:      state.routes(),
		Addr:         cfg.ListenAddr(),
		WriteTimeout: writeTimeout,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutS) * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		state.Sessions.StopAll(shutdownCtx)
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Starting server on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func getConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return config.DefaultPath
}

func newAppState(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) *AppState {
	return &AppState{
		Config:   cfg,
		Sessions: NewSessionRegistry(cfg.Pipeline.MaxSessions),
		Log:      log,
		ctx:      ctx,
		started:  time.Now(),
		openCamera: func(d source.Devices, f source.Facing) (pipeline.Source, error) {
			return source.OpenCamera(d, f)
		},
		openVideo: func(path string) (pipeline.Source, error) {
			return source.OpenVideo(path)
		},
		openFrames: func(dir string) (pipeline.Source, error) {
			return source.OpenFrames(dir)
		},
	}
}

func negotiateFormat(rc config.RecordingConfig) (recording.Format, error) {
	preferred, err := recording.ParseFormat(rc.Format)
	if err != nil {
		return recording.Format{}, err
	}
	if err := os.MkdirAll(rc.Dir, 0o755); err != nil {
		return recording.Format{}, err
	}
	return recording.Negotiate(preferred, recording.Supported)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"furitingoasis/growbox/internal/actuators"
	"furitingoasis/growbox/internal/config"
	"furitingoasis/growbox/internal/controller"
	"furitingoasis/growbox/internal/dashboard"
	"furitingoasis/growbox/internal/logger"
	"furitingoasis/growbox/internal/models"
	"furitingoasis/growbox/internal/sensors"
	"furitingoasis/growbox/internal/statusserver"
	"furitingoasis/growbox/mqtt"
)

// hardware is what the control loop needs from the board.
type hardware struct {
	actuators actuators.Set
	climate   sensors.ClimateSource
	soil      sensors.SoilSource
	stop      func() error
}

func main() {
	configPath := flag.String("config", "configs/config.yml", "path to the YAML configuration file")
	envFile := flag.String("env", "security.env", "dotenv file holding broker credentials")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		logger.New(logger.ErrorLevel).Fatalw("error reading config", "err", err)
	}
	log := logger.New(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatalw("startup failed", "err", err)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	hw, err := startHardware(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.stop(); err != nil {
			log.Errorw("stopping hardware", "err", err)
		}
	}()

	var telemetry controller.Telemetry
	if cfg.MQTT.Enabled() {
		pub, err := mqtt.Connect(mqtt.Config{
			BrokerURL:     cfg.MQTT.BrokerURL,
			ClientID:      cfg.MQTT.ClientID,
			Username:      cfg.MQTT.Username,
			Password:      cfg.MQTT.Password,
			TopicPrefix:   cfg.MQTT.TopicPrefix,
			MaxRetries:    cfg.MQTT.MaxRetries,
			RetryInterval: cfg.MQTT.RetryInterval,
		}, log.Named("mqtt"))
		if err != nil {
			return err
		}
		defer pub.Close()
		telemetry = pub
	}

	renderer, err := dashboard.NewRenderer()
	if err != nil {
		return err
	}

	ctrl := controller.New(controller.Options{
		Schedule:    cfg.Schedule,
		LogCapacity: cfg.LogCapacity,
		Interval:    cfg.LoopInterval,
		Location:    cfg.Location,
	}, hw.actuators, sensors.NewReader(hw.climate, hw.soil, log.Named("sensors")), renderer, telemetry, log.Named("controller"))

	srv, err := statusserver.Listen(cfg.HTTP.Addr, ctrl, cfg.HTTP.Options, log.Named("http"))
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			log.Warnw("closing listener", "err", err)
		}
	}()
	log.Infow("web server available", "addr", srv.Addr().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl.Run(ctx, srv)
	return nil
}

func startHardware(cfg *config.Config, log *logger.Logger) (*hardware, error) {
	hc := cfg.Hardware
	switch hc.Mode {
	case config.ModeSim:
		log.Infow("running with simulated hardware")
		s := sensors.Static{
			TemperatureF: cfg.Sim.TemperatureF,
			HumidityPct:  cfg.Sim.HumidityPct,
			SoilPct:      cfg.Sim.SoilPct,
		}
		return &hardware{
			actuators: actuators.NewMemory(),
			climate:   s,
			soil:      s,
			stop:      func() error { return nil },
		}, nil
	case config.ModeRaspi:
	default:
		return nil, fmt.Errorf("unsupported hardware mode %q", hc.Mode)
	}

	r := raspi.NewAdaptor()
	relays := actuators.NewRelayBank(r, map[models.Actuator]string{
		models.Light: hc.LightPin,
		models.Fan:   hc.FanPin,
		models.Pump:  hc.PumpPin,
	}, hc.RelayInverted)
	climate := sensors.NewSHT2x(r, hc.I2CBus, hc.HumidityOffset)
	soil := sensors.NewADS1115Soil(r, hc.I2CBus, hc.ADS1115Address, hc.SoilChannel, hc.SoilWetRaw, hc.SoilDryRaw)

	devices := append([]gobot.Device{climate.Device(), soil.Device()}, relays.Devices()...)
	robot := gobot.NewRobot("GrowBox", []gobot.Connection{r}, devices)
	// Start without auto-run: the control loop owns the main goroutine and signal handling.
	if err := robot.Start(false); err != nil {
		return nil, fmt.Errorf("starting robot: %w", err)
	}
	if err := actuators.AllOff(relays); err != nil {
		_ = robot.Stop()
		return nil, fmt.Errorf("initialising relays: %w", err)
	}
	log.Infow("hardware started", "light_pin", hc.LightPin, "fan_pin", hc.FanPin, "pump_pin", hc.PumpPin)

	return &hardware{
		actuators: relays,
		climate:   climate,
		soil:      soil,
		stop:      robot.Stop,
	}, nil
}

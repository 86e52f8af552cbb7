package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/rasuna-dev/backend-antar/internal/agent"
	"github.com/rasuna-dev/backend-antar/internal/battery"
	"github.com/rasuna-dev/backend-antar/internal/obs"
)

// The agent runs on the in-vehicle tracking unit (or a laptop, in simulation
// mode): it logs the driver in, watches the battery and replays or samples
// positions into the delivery API at a battery-aware cadence.
func main() {
	_ = godotenv.Load()

	var (
		apiURL     = flag.String("api", envOrDefault("AGENT_API_URL", "http://localhost:8080"), "delivery API base URL")
		phone      = flag.String("phone", os.Getenv("AGENT_PHONE"), "driver phone number")
		pin        = flag.String("pin", os.Getenv("AGENT_PIN"), "driver PIN")
		routeFile  = flag.String("route", envOrDefault("AGENT_ROUTE_FILE", ""), "waypoint JSON file to replay")
		deliveryID = flag.String("delivery", "", "delivery id the pings belong to")
		loop       = flag.Bool("loop", false, "restart the route after the last waypoint")
		interval   = flag.Duration("interval", 15*time.Second, "base ping cadence before battery scaling")
		simBattery = flag.Int("battery", -1, "simulate a fixed battery percentage instead of reading sysfs")
		simCharge  = flag.Bool("charging", false, "simulated charger state, used with -battery")
		powerDir   = flag.String("power-supply", "", "sysfs power_supply directory override")
		platform   = flag.String("platform", "", "device platform reported for tier classification")
		osVersion  = flag.String("os-version", "", "device OS version reported for tier classification")
	)
	flag.Parse()

	logger := obs.NewLogger(envOrDefault("OBS_LOG_FORMAT", "console"), envOrDefault("OBS_LOG_LEVEL", "info")).
		With().Str("component", "agent").Logger()

	if strings.TrimSpace(*phone) == "" || strings.TrimSpace(*pin) == "" {
		logger.Fatal().Msg("-phone and -pin (or AGENT_PHONE/AGENT_PIN) are required")
	}
	if strings.TrimSpace(*routeFile) == "" {
		logger.Fatal().Msg("-route (or AGENT_ROUTE_FILE) is required")
	}

	points, err := agent.LoadWaypoints(*routeFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("load route")
	}
	source, err := agent.NewWaypointSource(points, *loop)
	if err != nil {
		logger.Fatal().Err(err).Msg("build location source")
	}

	var powerSource battery.Source
	if *simBattery >= 0 {
		powerSource = battery.FixedSource{Sample: battery.Sample{Percent: *simBattery, Charging: *simCharge}}
	} else {
		powerSource = battery.SysfsSource{Dir: *powerDir}
	}
	monitor, err := battery.NewMonitor(battery.MonitorConfig{
		Source:  powerSource,
		Profile: battery.DeviceProfile{Platform: *platform, OSVersion: *osVersion},
		OnChange: func(state battery.State) {
			logger.Info().
				Int("percent", state.Percent).
				Bool("charging", state.Charging).
				Msg("battery state changed")
		},
		Logger: &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build battery monitor")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := monitor.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start battery monitor")
	}
	defer func() {
		if err := monitor.Close(); err != nil {
			logger.Error().Err(err).Msg("close battery monitor")
		}
	}()

	client := agent.NewClient(*apiURL, 10*time.Second)
	if err := client.Login(ctx, *phone, *pin); err != nil {
		logger.Fatal().Err(err).Msg("login")
	}
	logger.Info().Str("api", *apiURL).Str("tier", string(monitor.Tier())).Msg("agent started")

	runner := &agent.Runner{
		Poster:   client,
		Source:   source,
		Monitor:  monitor,
		Interval: *interval,
		Logger:   &logger,
	}
	if trimmed := strings.TrimSpace(*deliveryID); trimmed != "" {
		id, err := uuid.Parse(trimmed)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse delivery id")
		}
		runner.DeliveryID = &id
	}

	if err := runner.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("agent stopped with error")
	}
	logger.Info().Msg("agent shutdown complete")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

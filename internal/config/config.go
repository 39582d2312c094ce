package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Session Session          `yaml:"session"`
	Tracker Tracker          `yaml:"tracker"`
	Filters Filters          `yaml:"filters"`
	Exits   Exits            `yaml:"exits"`
	Data    Data             `yaml:"data"`
	Report  Report           `yaml:"report"`
	Pivots  map[string]Pivot `yaml:"pivots"`
}

func Read(r io.Reader) (*Config, error) {
	cfg := defaults()
	d := yaml.NewDecoder(r)
	if err := d.Decode(cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	return cfg, nil
}

func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}
	defer f.Close()

	return Read(f)
}

type Session struct {
	BarInterval  Duration  `yaml:"bar_interval"`
	DeltaBucket  Duration  `yaml:"delta_bucket"`
	EODClose     ClockTime `yaml:"eod_close"`
	MarketBuffer int       `yaml:"market_buffer"`
	Qty          float64   `yaml:"qty"`
}

type Tracker struct {
	ConfirmationWindow Duration `yaml:"confirmation_window"`
	VolumeStrength     float64  `yaml:"volume_strength"`
	CandleStrengthPct  float64  `yaml:"candle_strength_pct"`
	CandleStrengthATR  float64  `yaml:"candle_strength_atr"`
	ATRPeriod          int      `yaml:"atr_period"`
	VolumeLookback     int      `yaml:"volume_lookback"`

	EnablePullback  bool `yaml:"enable_pullback"`
	EnableSustained bool `yaml:"enable_sustained"`
	EnableDelta     bool `yaml:"enable_delta"`

	HoldDuration     Duration `yaml:"hold_duration"`
	HoldTolerancePct float64  `yaml:"hold_tolerance_pct"`

	RetestBandPct float64 `yaml:"retest_band_pct"`
	BouncePct     float64 `yaml:"bounce_pct"`
	BounceVolume  float64 `yaml:"bounce_volume"`

	DeltaThreshold float64 `yaml:"delta_threshold"`
	DeltaSanityPct float64 `yaml:"delta_sanity_pct"`

	MaxAttemptAge int `yaml:"max_attempt_age"`
	MaxAttempts   int `yaml:"max_attempts"`
}

type Filters struct {
	ChoppinessMin  float64   `yaml:"choppiness_min"`
	ChoppinessBars int       `yaml:"choppiness_bars"`
	MomentumCutoff ClockTime `yaml:"momentum_cutoff"`
	MinRoomPct     float64   `yaml:"min_room_pct"`
}

type Partial struct {
	Fraction  float64 `yaml:"fraction"`
	RMultiple float64 `yaml:"r_multiple"`
}

type Exits struct {
	Timeout             Duration  `yaml:"timeout"`
	TimeoutMinProgressR float64   `yaml:"timeout_min_progress_r"`
	Partials            []Partial `yaml:"partials"`
	TrailingActivation  float64   `yaml:"trailing_activation"`
	TrailingDistancePct float64   `yaml:"trailing_distance_pct"`
	EntrySlippagePct    float64   `yaml:"entry_slippage_pct"`
	StopSlippagePct     float64   `yaml:"stop_slippage_pct"`
	StopMultMomentum    float64   `yaml:"stop_mult_momentum"`
	StopMultSustained   float64   `yaml:"stop_mult_sustained"`
	StopMultPullback    float64   `yaml:"stop_mult_pullback"`
}

type Pivot struct {
	Level  float64 `yaml:"level"`
	Side   string  `yaml:"side"`
	Target float64 `yaml:"target"`
}

type Data struct {
	Bars     map[string]string `yaml:"bars"`
	Ticks    map[string]string `yaml:"ticks"`
	CacheDir string            `yaml:"cache_dir"`
	Alpaca   Alpaca            `yaml:"alpaca"`
}

type Alpaca struct {
	BaseUrl string `yaml:"base_url"`
	ApiKey  string `yaml:"api_key"`
	Secret  string `yaml:"secret"`
}

type Report struct {
	Output     string `yaml:"output"`
	SQLitePath string `yaml:"sqlite_path"`
	PlotDir    string `yaml:"plot_dir"`
}

func defaults() *Config {
	return &Config{
		Session: Session{
			BarInterval:  Duration(10 * time.Second),
			DeltaBucket:  Duration(time.Minute),
			EODClose:     ClockTime{Hour: 15, Minute: 55},
			MarketBuffer: 4096,
			Qty:          100,
		},
		Tracker: Tracker{
			ConfirmationWindow: Duration(time.Minute),
			VolumeStrength:     2.0,
			CandleStrengthPct:  1.0,
			CandleStrengthATR:  1.5,
			ATRPeriod:          14,
			VolumeLookback:     20,
			EnablePullback:     true,
			EnableSustained:    true,
			EnableDelta:        true,
			HoldDuration:       Duration(2 * time.Minute),
			HoldTolerancePct:   0.5,
			RetestBandPct:      0.2,
			BouncePct:          0.2,
			BounceVolume:       1.5,
			DeltaThreshold:     0.15,
			DeltaSanityPct:     0.5,
			MaxAttemptAge:      50,
			MaxAttempts:        2,
		},
		Filters: Filters{
			ChoppinessMin:  1.5,
			ChoppinessBars: 10,
			MomentumCutoff: ClockTime{Hour: 15},
			MinRoomPct:     0.5,
		},
		Exits: Exits{
			Timeout:             Duration(7 * time.Minute),
			TimeoutMinProgressR: 0.5,
			Partials: []Partial{
				{Fraction: 0.5, RMultiple: 1},
				{Fraction: 0.25, RMultiple: 2},
			},
			TrailingActivation:  0.25,
			TrailingDistancePct: 0.5,
			EntrySlippagePct:    0.05,
			StopSlippagePct:     0.05,
			StopMultMomentum:    1.5,
			StopMultSustained:   1.2,
			StopMultPullback:    1.0,
		},
	}
}

// Validate fails fast on misconfiguration before any bar is processed:
// a silently insane threshold would corrupt every trade's economics.
func (c *Config) Validate() error {
	var errs []error

	if c.Session.BarInterval <= 0 {
		errs = append(errs, errors.New("session.bar_interval must be positive"))
	}
	if c.Session.DeltaBucket <= 0 {
		errs = append(errs, errors.New("session.delta_bucket must be positive"))
	}
	if c.Session.MarketBuffer <= 0 {
		errs = append(errs, errors.New("session.market_buffer must be positive"))
	}
	if c.Session.Qty <= 0 {
		errs = append(errs, errors.New("session.qty must be positive"))
	}

	if c.Tracker.ConfirmationWindow <= 0 {
		errs = append(errs, errors.New("tracker.confirmation_window must be positive"))
	}
	if c.Tracker.VolumeStrength <= 0 {
		errs = append(errs, errors.New("tracker.volume_strength must be positive"))
	}
	if c.Tracker.HoldDuration <= 0 {
		errs = append(errs, errors.New("tracker.hold_duration must be positive"))
	}
	if c.Tracker.DeltaThreshold <= 0 || c.Tracker.DeltaThreshold > 1 {
		errs = append(errs, errors.New("tracker.delta_threshold must be in (0, 1]"))
	}
	if c.Tracker.MaxAttemptAge <= 0 {
		errs = append(errs, errors.New("tracker.max_attempt_age must be positive"))
	}
	if c.Tracker.MaxAttempts <= 0 {
		errs = append(errs, errors.New("tracker.max_attempts must be positive"))
	}
	if !c.Tracker.EnablePullback && !c.Tracker.EnableSustained && !c.Tracker.EnableDelta {
		errs = append(errs, errors.New("tracker: at least one weak confirmation path must be enabled"))
	}

	if c.Exits.Timeout <= 0 {
		errs = append(errs, errors.New("exits.timeout must be positive"))
	}
	if c.Exits.TrailingActivation <= 0 || c.Exits.TrailingActivation > 1 {
		errs = append(errs, errors.New("exits.trailing_activation must be in (0, 1]"))
	}
	if c.Exits.TrailingDistancePct <= 0 {
		errs = append(errs, errors.New("exits.trailing_distance_pct must be positive"))
	}

	total := 0.0
	lastR := 0.0
	for i, p := range c.Exits.Partials {
		if p.Fraction <= 0 || p.Fraction > 1 {
			errs = append(errs, fmt.Errorf("exits.partials[%d].fraction must be in (0, 1]", i))
		}
		if p.RMultiple <= lastR {
			errs = append(errs, fmt.Errorf("exits.partials[%d].r_multiple must exceed the previous target", i))
		}
		lastR = p.RMultiple
		total += p.Fraction
	}
	if total > 1 {
		errs = append(errs, errors.New("exits.partials fractions must not sum above 1"))
	}

	for symbol, p := range c.Pivots {
		if p.Level <= 0 {
			errs = append(errs, fmt.Errorf("pivots.%s.level must be positive", symbol))
		}
		if p.Side != "long" && p.Side != "short" {
			errs = append(errs, fmt.Errorf("pivots.%s.side must be long or short", symbol))
		}
	}

	return errors.Join(errs...)
}

// Symbols returns the armed pivot symbols in deterministic order.
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Pivots))
	for s := range c.Pivots {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

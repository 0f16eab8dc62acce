package features

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/agriguard/cropsentinel/internal/models"
)

var testStart = time.Date(2026, 4, 10, 6, 0, 0, 0, time.UTC)

// benignReading is a mild reading that triggers no flags and no weather
// rule beyond the catch-all.
func benignReading(tick int, crop string) models.Reading {
	return models.Reading{
		Timestamp:       testStart.Add(time.Duration(tick) * time.Minute),
		CropType:        crop,
		Temperature:     22,
		Humidity:        55,
		RainForecast:    0.1,
		SoilMoisture:    40,
		WindSpeed:       5,
		LeafWetness:     30,
		SoilTemperature: 16,
		SoilPH:          6.5,
		SolarRadiation:  400,
	}
}

func TestExtract_ColdStartSuppression(t *testing.T) {
	e := New(DefaultConfig())

	r := benignReading(0, "tomato")
	r.Humidity = 99 // above flag threshold, but streak and warmup both short

	f, err := e.Extract(r)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if f.AnomalyScore != 0 {
		t.Errorf("got anomaly %f, want 0 during cold start", f.AnomalyScore)
	}
	for signal, flag := range f.Flags {
		if flag.Active {
			t.Errorf("flag %s active during cold start", signal)
		}
	}
	if f.MinSampleCount != 1 {
		t.Errorf("got min sample count %d, want 1", f.MinSampleCount)
	}
	if f.Degraded {
		t.Error("benign reading must not mark the feature degraded")
	}
}

func TestExtract_SustainedFlagRaisesOnKthReading(t *testing.T) {
	e := New(DefaultConfig())

	for i, humidity := range []float64{95, 96, 94} {
		r := benignReading(i, "tomato")
		r.Humidity = humidity
		f, err := e.Extract(r)
		if err != nil {
			t.Fatalf("Extract #%d: %v", i, err)
		}

		flag := f.Flags[models.SignalHumidity]
		wantActive := i == 2
		if flag.Active != wantActive {
			t.Errorf("reading %d: got active=%v, want %v (streak %d)",
				i, flag.Active, wantActive, flag.Streak)
		}
		if flag.Streak != i+1 {
			t.Errorf("reading %d: got streak %d, want %d", i, flag.Streak, i+1)
		}
	}
}

func TestExtract_FlagStreakResetsOnDip(t *testing.T) {
	e := New(DefaultConfig())

	humidities := []float64{95, 96, 70, 95, 95, 95}
	for i, humidity := range humidities {
		r := benignReading(i, "rice")
		r.Humidity = humidity
		f, err := e.Extract(r)
		if err != nil {
			t.Fatalf("Extract #%d: %v", i, err)
		}
		wantActive := i == 5 // only after three consecutive exceedances post-dip
		if f.Flags[models.SignalHumidity].Active != wantActive {
			t.Errorf("reading %d (humidity %v): got active=%v, want %v",
				i, humidity, f.Flags[models.SignalHumidity].Active, wantActive)
		}
	}

	// The flag's Since must point at the start of the surviving streak.
	r := benignReading(6, "rice")
	r.Humidity = 95
	f, _ := e.Extract(r)
	wantSince := testStart.Add(3 * time.Minute)
	if got := f.Flags[models.SignalHumidity].Since; !got.Equal(wantSince) {
		t.Errorf("got since %v, want %v", got, wantSince)
	}
}

func TestExtract_SubstitutesLastKnownGood(t *testing.T) {
	e := New(DefaultConfig())

	r := benignReading(0, "maize")
	r.Humidity = 60
	if _, err := e.Extract(r); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	bad := benignReading(1, "maize")
	bad.Humidity = math.NaN()
	f, err := e.Extract(bad)
	if err != nil {
		t.Fatalf("Extract with NaN field: %v", err)
	}
	if !f.Degraded {
		t.Error("feature with substituted field must be marked degraded")
	}
	if f.Raw[models.SignalHumidity] != 60 {
		t.Errorf("got raw humidity %f, want last-known-good 60", f.Raw[models.SignalHumidity])
	}
}

func TestExtract_SubstitutesDomainDefault(t *testing.T) {
	e := New(DefaultConfig())

	r := benignReading(0, "maize")
	r.SoilPH = math.Inf(1) // no last-known-good yet
	f, err := e.Extract(r)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !f.Degraded {
		t.Error("feature with substituted field must be marked degraded")
	}
	if f.Raw[models.SignalSoilPH] != 7.0 {
		t.Errorf("got raw soil pH %f, want domain default 7.0", f.Raw[models.SignalSoilPH])
	}
}

func TestExtract_OutOfDomainTreatedAsInvalid(t *testing.T) {
	e := New(DefaultConfig())

	r := benignReading(0, "wheat")
	r.Humidity = 70
	if _, err := e.Extract(r); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	bad := benignReading(1, "wheat")
	bad.Humidity = 150 // outside [0,100]
	f, err := e.Extract(bad)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !f.Degraded {
		t.Error("out-of-domain sample must degrade the feature")
	}
	if f.Raw[models.SignalHumidity] != 70 {
		t.Errorf("got raw humidity %f, want substituted 70", f.Raw[models.SignalHumidity])
	}
}

func TestExtract_RejectsZeroTimestamp(t *testing.T) {
	e := New(DefaultConfig())
	r := benignReading(0, "rice")
	r.Timestamp = time.Time{}
	if _, err := e.Extract(r); err == nil {
		t.Error("expected error for zero timestamp")
	}
}

func TestExtract_WeatherClassification(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(*models.Reading)
		want  string
	}{
		{
			name: "wet-warm",
			tweak: func(r *models.Reading) {
				r.Humidity = 85
				r.LeafWetness = 75
				r.RainForecast = 0.7
				r.Temperature = 25
			},
			want: "wet-warm",
		},
		{
			name: "heat-dry",
			tweak: func(r *models.Reading) {
				r.Temperature = 36
				r.Humidity = 30
				r.SolarRadiation = 720
			},
			want: "heat-dry",
		},
		{
			name:  "stable fallback",
			tweak: func(r *models.Reading) {},
			want:  "stable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(DefaultConfig())
			r := benignReading(0, "tomato")
			tt.tweak(&r)
			f, err := e.Extract(r)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if f.WeatherCondition != tt.want {
				t.Errorf("got weather %q, want %q", f.WeatherCondition, tt.want)
			}
		})
	}
}

func TestExtract_AnomalyAfterWarmup(t *testing.T) {
	cfg := DefaultConfig()
	e := New(cfg)

	for i := 0; i < 5; i++ {
		r := benignReading(i, "potato")
		if _, err := e.Extract(r); err != nil {
			t.Fatalf("Extract #%d: %v", i, err)
		}
	}

	spike := benignReading(5, "potato")
	spike.Humidity = 95
	f, err := e.Extract(spike)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if f.AnomalyScore <= 0 {
		t.Errorf("got anomaly %f, want positive after humidity spike", f.AnomalyScore)
	}
	if f.AnomalyScore > cfg.AnomalyCap {
		t.Errorf("got anomaly %f, want at most cap %f", f.AnomalyScore, cfg.AnomalyCap)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	a := New(DefaultConfig())
	b := New(DefaultConfig())

	for i := 0; i < 6; i++ {
		r := benignReading(i, "rice")
		r.Humidity = 50 + float64(i*7)

		fa, errA := a.Extract(r)
		fb, errB := b.Extract(r)
		if errA != nil || errB != nil {
			t.Fatalf("Extract #%d: %v / %v", i, errA, errB)
		}
		if !reflect.DeepEqual(fa, fb) {
			t.Fatalf("replayed feature %d diverged:\n%+v\n%+v", i, fa, fb)
		}
	}
}

func TestWindowFill(t *testing.T) {
	e := New(DefaultConfig())
	for i := 0; i < 3; i++ {
		if _, err := e.Extract(benignReading(i, "rice")); err != nil {
			t.Fatalf("Extract: %v", err)
		}
	}
	fill := e.WindowFill()
	for _, name := range models.SignalNames {
		if fill[name] != 3 {
			t.Errorf("signal %s: got fill %d, want 3", name, fill[name])
		}
	}
}

// Command validate checks a generated table end to end: schema and physical
// ranges, derived calendar columns, reproducibility from its seed, and,
// when a models directory is given, that the stored artifacts load and
// beat the majority-class baseline on the table.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -data data/synthetic/records.csv \
//	  -seed 42 -start 2024-01-01 -end 2024-12-31 -step 1h \
//	  -models models
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/couchcryptid/grid-outage-risk/internal/dataset"
	"github.com/couchcryptid/grid-outage-risk/internal/domain"
	"github.com/couchcryptid/grid-outage-risk/internal/model"
)

// maxReported caps the errors printed per phase.
const maxReported = 20

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// options are the parsed command-line flags.
type options struct {
	data   string
	models string
	gen    domain.GeneratorConfig
}

func parseFlags(args []string) (options, error) {
	def := domain.DefaultGeneratorConfig()
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	data := fs.String("data", sharedcfg.EnvOrDefault("DATASET_PATH", "data/synthetic/records.csv"), "CSV table to validate")
	seed := fs.Uint64("seed", def.Seed, "seed the table was generated with")
	start := fs.String("start", def.Start.Format(time.DateOnly), "first day of the table")
	end := fs.String("end", def.End.Format(time.DateOnly), "last day of the table")
	step := fs.Duration("step", def.Step, "sampling step the table was generated with")
	districts := fs.String("districts", "", "optional YAML district table used for generation")
	models := fs.String("models", "", "optional directory of trained artifacts")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts := options{data: *data, models: *models, gen: def}
	opts.gen.Seed = *seed
	opts.gen.Step = *step
	var err error
	if opts.gen.Start, err = time.Parse(time.DateOnly, *start); err != nil {
		return options{}, fmt.Errorf("invalid -start: %w", err)
	}
	if opts.gen.End, err = time.Parse(time.DateOnly, *end); err != nil {
		return options{}, fmt.Errorf("invalid -end: %w", err)
	}
	if opts.gen.Step <= 0 {
		return options{}, fmt.Errorf("invalid -step %s: must be positive", opts.gen.Step)
	}
	if opts.gen.Districts, err = domain.LoadDistricts(*districts); err != nil {
		return options{}, fmt.Errorf("load districts: %w", err)
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(run(opts.data, opts.models, opts.gen))
}

func run(dataPath, modelsDir string, cfg domain.GeneratorConfig) int {
	fmt.Println("=== Synthetic Outage Data Validation ===")
	fmt.Println()

	records, err := dataset.ReadFile(dataPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v (run the generate command first)\n", err)
		return 1
	}

	phases := []*phase{
		validateRanges(records),
		validateCalendar(records),
		validateLayout(records, cfg),
		validateReproducible(records, cfg),
	}
	if modelsDir != "" {
		phases = append(phases, validateModels(records, modelsDir))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	sum := domain.Summarize(records)
	fmt.Println()
	fmt.Printf("Records: %d, outages: %d (%.2f%%)\n", sum.Rows, sum.Outages, sum.OutageRate*100)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxReported {
				fmt.Printf("  ... %d more\n", len(p.errors)-maxReported)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phases ──

func validateRanges(records []domain.Record) *phase {
	p := &phase{name: "Physical ranges"}
	for i, r := range records {
		row := i + 2
		if r.Temperature < domain.MinTemperature || r.Temperature > domain.MaxTemperature {
			p.errorf("row %d: temperature %.2f out of range", row, r.Temperature)
		}
		if h := float64(r.Humidity); h < domain.MinHumidity || h > domain.MaxHumidity {
			p.errorf("row %d: humidity %d out of range", row, r.Humidity)
		}
		if r.WindSpeed < domain.MinWindSpeed || r.WindSpeed > domain.MaxWindSpeed {
			p.errorf("row %d: wind speed %.2f out of range", row, r.WindSpeed)
		}
		if l := float64(r.Load); l < domain.MinLoad || l > domain.MaxLoad {
			p.errorf("row %d: load %d out of range", row, r.Load)
		}
		if r.Outage != 0 && r.Outage != 1 {
			p.errorf("row %d: outage label %d is not binary", row, r.Outage)
		}
	}
	return p
}

func validateCalendar(records []domain.Record) *phase {
	p := &phase{name: "Derived calendar columns"}
	for i, r := range records {
		row := i + 2
		ts := r.Timestamp
		if r.Hour != ts.Hour() {
			p.errorf("row %d: hour %d, timestamp says %d", row, r.Hour, ts.Hour())
		}
		if want := domain.DayOfWeek(ts); r.DayOfWeek != want {
			p.errorf("row %d: day_of_week %d, want %d", row, r.DayOfWeek, want)
		}
		if r.Month != int(ts.Month()) {
			p.errorf("row %d: month %d, timestamp says %d", row, r.Month, ts.Month())
		}
		if want := domain.WeatherSeason(ts.Month()); r.Season != want {
			p.errorf("row %d: season %d, want %d", row, r.Season, want)
		}
		want := 0
		if domain.IsPeakHour(ts.Hour()) {
			want = 1
		}
		if r.IsPeakHour != want {
			p.errorf("row %d: is_peak_hour %d, want %d", row, r.IsPeakHour, want)
		}
	}
	return p
}

func validateLayout(records []domain.Record, cfg domain.GeneratorConfig) *phase {
	p := &phase{name: "Row layout (district-major, ascending time)"}
	perDistrict := len(cfg.Timestamps())
	names := cfg.Districts.Names()
	if want := perDistrict * len(names); len(records) != want {
		p.errorf("row count %d, want %d (%d districts x %d timestamps)", len(records), want, len(names), perDistrict)
		return p
	}
	for i, r := range records {
		if want := names[i/perDistrict]; r.District != want {
			p.errorf("row %d: district %q, want %q", i+2, r.District, want)
		}
		if i%perDistrict > 0 && r.Timestamp.Sub(records[i-1].Timestamp) != cfg.Step {
			p.errorf("row %d: timestamp %s is not %s after the previous row",
				i+2, r.Timestamp.Format(dataset.TimestampLayout), cfg.Step)
		}
	}
	for _, d := range domain.Summarize(records).ByDistrict {
		if d.Outages == 0 || d.Outages == d.Rows {
			p.errorf("district %s has a single outage class (%d/%d)", d.District, d.Outages, d.Rows)
		}
	}
	return p
}

func validateReproducible(records []domain.Record, cfg domain.GeneratorConfig) *phase {
	p := &phase{name: "Reproducible from seed"}
	regenerated, err := domain.Generate(cfg)
	if err != nil {
		p.errorf("regenerate: %v", err)
		return p
	}
	if diff := cmp.Diff(regenerated, records, cmpopts.IgnoreFields(domain.Record{}, "Probability")); diff != "" {
		p.errorf("table differs from seed %d output (-regenerated +file):\n%s", cfg.Seed, diff)
	}
	return p
}

func validateModels(records []domain.Record, dir string) *phase {
	p := &phase{name: "Stored models beat majority baseline"}
	arts, err := model.LoadArtifacts(context.Background(), model.DirStore{Dir: dir})
	if err != nil {
		p.errorf("load artifacts: %v", err)
	}
	if arts.Scaler == nil {
		return p
	}

	x, y := model.Matrix(records)
	scaled, err := arts.Scaler.TransformAll(x)
	if err != nil {
		p.errorf("scale features: %v", err)
		return p
	}

	positives := 0.0
	for _, v := range y {
		positives += v
	}
	baseline := max(positives, float64(len(y))-positives) / float64(len(y))

	check := func(name string, c model.Classifier) {
		ev, err := model.Evaluate(c, scaled, y)
		if err != nil {
			p.errorf("%s: evaluate: %v", name, err)
			return
		}
		fmt.Printf("  %s: accuracy %.4f (baseline %.4f), log-loss %.4f\n", name, ev.Accuracy, baseline, ev.LogLoss)
		if ev.Accuracy+1e-9 < baseline {
			p.errorf("%s accuracy %.4f below majority baseline %.4f", name, ev.Accuracy, baseline)
		}
	}
	if arts.Tree != nil {
		check("gbdt", arts.Tree)
	}
	if arts.Recurrent != nil {
		check("lstm", arts.Recurrent)
	}
	return p
}

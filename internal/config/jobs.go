package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"etlsched/internal/store"
	"etlsched/internal/trigger"
)

// JobItem is one entry of the jobs file. Trigger-specific fields live at
// the top level of the item, mirroring the descriptor input format:
//
//	jobs:
//	  - id: account_summary_1m
//	    func: account_summary
//	    trigger: interval
//	    every: { minutes: 1 }
//	    kwargs: { exchange: okx }
//	  - id: mart_refresh_daily
//	    func: portfolio_mart_refresh
//	    trigger: cron
//	    minute: "5"
//	    hour: "0"
type JobItem struct {
	ID      string `yaml:"id"`
	Func    string `yaml:"func"`
	Trigger string `yaml:"trigger"`

	// Cron fields. FlexString accepts both quoted and bare scalars,
	// so `minute: 30` and `minute: "*/5"` are equally valid.
	Second    FlexString `yaml:"second"`
	Minute    FlexString `yaml:"minute"`
	Hour      FlexString `yaml:"hour"`
	Day       FlexString `yaml:"day"`
	Month     FlexString `yaml:"month"`
	DayOfWeek FlexString `yaml:"day_of_week"`

	// Interval fields, e.g. {days: 1, hours: 2, minutes: 3, seconds: 4}.
	Every map[string]int `yaml:"every"`

	// Date field.
	RunDate time.Time `yaml:"run_date"`

	Kwargs           map[string]any `yaml:"kwargs"`
	Timezone         string         `yaml:"timezone"`
	MisfireGraceTime *int           `yaml:"misfire_grace_time"` // seconds
	MaxInstances     int            `yaml:"max_instances"`
	Coalesce         *bool          `yaml:"coalesce"`
}

// FlexString captures any YAML scalar as its literal string form.
type FlexString string

func (f *FlexString) UnmarshalYAML(value *yaml.Node) error {
	*f = FlexString(value.Value)
	return nil
}

type jobsFile struct {
	Jobs []JobItem `yaml:"jobs"`
}

// LoadJobsFile parses the jobs file into descriptors. Malformed items are
// collected as errors and skipped; the rest of the batch still loads.
// Only a file-level failure (unreadable, not YAML) is returned as err.
func LoadJobsFile(path string) (descs []store.Descriptor, itemErrs []error, err error) {
	b, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, nil, rerr
	}

	var f jobsFile
	if uerr := yaml.Unmarshal(b, &f); uerr != nil {
		return nil, nil, fmt.Errorf("jobs file %s: %w", path, uerr)
	}

	seen := make(map[string]bool, len(f.Jobs))
	for i, item := range f.Jobs {
		d, derr := item.toDescriptor()
		if derr != nil {
			itemErrs = append(itemErrs, fmt.Errorf("jobs[%d] (%s): %w", i, orUnknown(item.ID), derr))
			continue
		}
		if seen[d.ID] {
			itemErrs = append(itemErrs, fmt.Errorf("jobs[%d]: duplicate id %q", i, d.ID))
			continue
		}
		seen[d.ID] = true
		descs = append(descs, d)
	}
	return descs, itemErrs, nil
}

func (item JobItem) toDescriptor() (store.Descriptor, error) {
	if strings.TrimSpace(item.ID) == "" {
		return store.Descriptor{}, fmt.Errorf("id is required")
	}
	if strings.TrimSpace(item.Func) == "" {
		return store.Descriptor{}, fmt.Errorf("func is required")
	}

	kind := strings.ToLower(strings.TrimSpace(item.Trigger))
	if kind == "" {
		kind = "cron"
	}

	spec := trigger.Spec{Timezone: item.Timezone}
	switch trigger.Kind(kind) {
	case trigger.KindCron:
		spec.Kind = trigger.KindCron
		spec.Second = string(item.Second)
		spec.Minute = string(item.Minute)
		spec.Hour = string(item.Hour)
		spec.Day = string(item.Day)
		spec.Month = string(item.Month)
		spec.DayOfWeek = string(item.DayOfWeek)

	case trigger.KindInterval:
		spec.Kind = trigger.KindInterval
		every := item.Every
		if len(every) == 0 {
			// Default period when the interval is left unspecified.
			every = map[string]int{"minutes": 5}
		}
		for unit, n := range every {
			switch strings.ToLower(unit) {
			case "days":
				spec.Days = n
			case "hours":
				spec.Hours = n
			case "minutes":
				spec.Minutes = n
			case "seconds":
				spec.Seconds = n
			default:
				return store.Descriptor{}, fmt.Errorf("unknown interval unit %q", unit)
			}
		}

	case trigger.KindDate:
		spec.Kind = trigger.KindDate
		spec.RunAt = item.RunDate

	default:
		return store.Descriptor{}, fmt.Errorf("unsupported trigger %q", item.Trigger)
	}

	// Validate eagerly so broken specs are caught at load, not fire, time.
	if _, err := trigger.Parse(spec); err != nil {
		return store.Descriptor{}, err
	}

	d := store.Descriptor{
		ID:           item.ID,
		Func:         item.Func,
		Kwargs:       item.Kwargs,
		Trigger:      spec,
		MaxInstances: item.MaxInstances,
		Coalesce:     true,
	}
	if item.MisfireGraceTime != nil {
		d.MisfireGrace = time.Duration(*item.MisfireGraceTime) * time.Second
	}
	if item.Coalesce != nil {
		d.Coalesce = *item.Coalesce
	}
	return d.WithDefaults(), nil
}

func orUnknown(id string) string {
	if strings.TrimSpace(id) == "" {
		return "?"
	}
	return id
}

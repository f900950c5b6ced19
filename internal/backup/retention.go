package backup

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Retention is the number of backups kept in each age tier. Backups older
// than a year are always removed.
type Retention struct {
	Hourly  int // younger than a day (default 24)
	Daily   int // one to seven days (default 7)
	Weekly  int // seven to thirty days (default 4)
	Monthly int // thirty days to a year (default 12)
}

// DefaultRetention keeps a day of hourlies, a week of dailies, a month of
// weeklies and a year of monthlies.
func DefaultRetention() Retention {
	return Retention{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

func (r Retention) withDefaults() Retention {
	d := DefaultRetention()
	if r.Hourly <= 0 {
		r.Hourly = d.Hourly
	}
	if r.Daily <= 0 {
		r.Daily = d.Daily
	}
	if r.Weekly <= 0 {
		r.Weekly = d.Weekly
	}
	if r.Monthly <= 0 {
		r.Monthly = d.Monthly
	}
	return r
}

// Info describes one backup file.
type Info struct {
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// list returns the backups in dir, newest first.
func list(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Path: filepath.Join(dir, e.Name()), CreatedAt: fi.ModTime(), Size: fi.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// expired picks the backups the policy no longer keeps. backups must be
// sorted newest first.
func expired(backups []Info, policy Retention, now time.Time) []Info {
	const day = 24 * time.Hour
	tiers := []struct {
		maxAge time.Duration
		keep   int
	}{
		{day, policy.Hourly},
		{7 * day, policy.Daily},
		{30 * day, policy.Weekly},
		{365 * day, policy.Monthly},
	}

	var drop []Info
	kept := make([]int, len(tiers))
	for _, b := range backups {
		age := now.Sub(b.CreatedAt)
		tier := -1
		for i, t := range tiers {
			if age < t.maxAge {
				tier = i
				break
			}
		}
		if tier < 0 || kept[tier] >= tiers[tier].keep {
			drop = append(drop, b)
			continue
		}
		kept[tier]++
	}
	return drop
}

// prune removes expired backups and reports how many went. It keeps going
// past individual failures.
func prune(dir string, policy Retention, now time.Time) (int, error) {
	backups, err := list(dir)
	if err != nil {
		return 0, err
	}
	var errs []error
	removed := 0
	for _, b := range expired(backups, policy, now) {
		if err := os.Remove(b.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

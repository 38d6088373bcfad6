package forecast

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/buoyforecast/internal/models"
)

// ICT is the fixed UTC+7 zone daily rows are keyed in.
var ICT = time.FixedZone("ICT", 7*60*60)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// naive layouts carry no zone and are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseTimestamp accepts RFC 3339 style strings, naive timestamps (UTC) and
// unix epochs in seconds or milliseconds.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return time.Time{}, false
		}
		// Anything past 1e11 cannot be seconds in this century.
		if math.Abs(n) >= 1e11 {
			return time.UnixMilli(int64(n)).UTC(), true
		}
		return time.Unix(int64(n), 0).UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type accum struct {
	sum   float64
	count int
}

func (a *accum) add(v float64) {
	a.sum += v
	a.count++
}

func (a accum) mean() float64 {
	return a.sum / float64(a.count)
}

// Aggregate converts raw samples into one row per local calendar day.
//
// Samples landing on the same instant are averaged first, then averaged per
// hour, and each day's mean is the mean of its hourly means. DayCoverage is
// the fraction of the day's 24 hourly buckets with at least one value for any
// parameter. Days between the first and last sample with no data are kept as
// rows with no means and zero coverage. Unparseable timestamps, unknown
// parameters and non-finite values are dropped.
func Aggregate(samples []models.RawSample, loc *time.Location) []models.DailyRow {
	if loc == nil {
		loc = ICT
	}

	instants := make(map[int64]map[models.Param]*accum)
	for _, s := range samples {
		p, ok := models.ParseParam(s.Parameter)
		if !ok || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			continue
		}
		ts, ok := ParseTimestamp(s.Timestamp)
		if !ok {
			continue
		}
		key := ts.UnixNano()
		byParam, ok := instants[key]
		if !ok {
			byParam = make(map[models.Param]*accum)
			instants[key] = byParam
		}
		a, ok := byParam[p]
		if !ok {
			a = &accum{}
			byParam[p] = a
		}
		a.add(s.Value)
	}
	if len(instants) == 0 {
		return nil
	}

	hours := make(map[time.Time]map[models.Param]*accum)
	for key, byParam := range instants {
		local := time.Unix(0, key).In(loc)
		hour := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
		bucket, ok := hours[hour]
		if !ok {
			bucket = make(map[models.Param]*accum)
			hours[hour] = bucket
		}
		for p, a := range byParam {
			h, ok := bucket[p]
			if !ok {
				h = &accum{}
				bucket[p] = h
			}
			h.add(a.mean())
		}
	}

	type dayAccum struct {
		params map[models.Param]*accum
		hours  int
	}
	days := make(map[time.Time]*dayAccum)
	for hour, bucket := range hours {
		day := time.Date(hour.Year(), hour.Month(), hour.Day(), 0, 0, 0, 0, loc)
		d, ok := days[day]
		if !ok {
			d = &dayAccum{params: make(map[models.Param]*accum)}
			days[day] = d
		}
		d.hours++
		for p, a := range bucket {
			da, ok := d.params[p]
			if !ok {
				da = &accum{}
				d.params[p] = da
			}
			da.add(a.mean())
		}
	}

	keys := make([]time.Time, 0, len(days))
	for day := range days {
		keys = append(keys, day)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	first, last := keys[0], keys[len(keys)-1]
	var rows []models.DailyRow
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		row := models.DailyRow{Date: day, Means: models.Means{}}
		if d, ok := days[day]; ok {
			for p, a := range d.params {
				row.Means[p] = a.mean()
			}
			row.DayCoverage = float64(d.hours) / 24
		}
		rows = append(rows, row)
	}
	return rows
}

// RowFor returns the row dated date, if present.
func RowFor(rows []models.DailyRow, date time.Time) (models.DailyRow, bool) {
	want := date.Format("2006-01-02")
	for _, r := range rows {
		if r.DateString() == want {
			return r, true
		}
	}
	return models.DailyRow{}, false
}

// LastKnown returns, per parameter, the most recent non-null value in rows.
func LastKnown(rows []models.DailyRow) models.Means {
	out := models.Means{}
	for i := len(rows) - 1; i >= 0; i-- {
		for _, p := range models.Params {
			if _, done := out[p]; done {
				continue
			}
			if v, ok := rows[i].Means.Get(p); ok {
				out[p] = v
			}
		}
		if len(out) == len(models.Params) {
			break
		}
	}
	return out
}

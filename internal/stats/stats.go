// Package stats runs the aggregate queries behind the statistics
// endpoints: flat result counts, the per-serial lifetime classification,
// per-serial rollups and time bucketed trends.
//
// Table and column names come from Subject values defined in this package
// and sort columns from a whitelist; every user supplied value is bound.
package stats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"rigdata/internal/metrics"
	"rigdata/internal/models"
	"rigdata/internal/repository"
)

// Subject describes a table whose rows carry a serial and a verdict.
type Subject struct {
	Name         string
	Table        string
	SerialColumn string
	ResultColumn string
	Pass, Fail   string
	// Noun names the tested entity in responses: "board" or "product".
	Noun      string
	TrendDays int
}

var (
	WifiBoards = Subject{
		Name: "wifi", Table: "wifi_board_tests", SerialColumn: "wifi_board_sn",
		ResultColumn: "general_test_result", Pass: models.ResultPass, Fail: models.ResultFail,
		Noun: "board", TrendDays: 180,
	}
	DriverBoards = Subject{
		Name: "driver", Table: "driver_board_tests", SerialColumn: "driver_board_sn",
		ResultColumn: "general_test_result", Pass: models.ResultPass, Fail: models.ResultFail,
		Noun: "board", TrendDays: 30,
	}
	Products = Subject{
		Name: "integrate", Table: "integrate_tests", SerialColumn: "product_sn",
		ResultColumn: "integrate_test_result", Pass: models.ResultPass, Fail: models.ResultFail,
		Noun: "product", TrendDays: 30,
	}
)

type Filter struct {
	From, To *time.Time
	// Serial is a substring match on the serial column.
	Serial string
	// Result is an exact match on the verdict column.
	Result string
}

type Service struct {
	db *gorm.DB
	// offset of the display zone, used for bucketing
	offsetHours int
	loc         *time.Location
}

func NewService(db *gorm.DB, loc *time.Location) *Service {
	_, off := time.Now().In(loc).Zone()
	return &Service{db: db, offsetHours: off / 3600, loc: loc}
}

func (s *Service) Location() *time.Location { return s.loc }

// where builds the shared predicate for sub with filter f.
func where(sub Subject, f Filter) (string, []any) {
	conds := []string{"is_deleted = ?"}
	args := []any{false}
	if f.From != nil {
		conds = append(conds, "create_time >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		conds = append(conds, "create_time <= ?")
		args = append(args, f.To.UTC())
	}
	if f.Serial != "" {
		conds = append(conds, sub.SerialColumn+" LIKE ? ESCAPE '!'")
		args = append(args, "%"+repository.EscapeLike(f.Serial)+"%")
	}
	if f.Result != "" {
		conds = append(conds, sub.ResultColumn+" = ?")
		args = append(args, f.Result)
	}
	return strings.Join(conds, " AND "), args
}


func (s *Service) observe(sub Subject, query string, start time.Time) {
	metrics.StatsQueryDuration.WithLabelValues(sub.Name, query).Observe(time.Since(start).Seconds())
}

type Counts struct {
	Total     int64            `json:"total_count"`
	Pass      int64            `json:"success_count"`
	Fail      int64            `json:"fail_count"`
	Other     int64            `json:"other_count"`
	Breakdown map[string]int64 `json:"breakdown"`
}

// Counts returns totals by verdict. NULL verdicts are reported as "unknown".
func (s *Service) Counts(ctx context.Context, sub Subject, f Filter) (Counts, error) {
	defer s.observe(sub, "counts", time.Now())
	w, args := where(sub, f)
	db := s.db.WithContext(ctx)

	var row struct {
		Total int64
		Pass  int64
		Fail  int64
	}
	q := "SELECT COUNT(*) AS total, " +
		"COALESCE(SUM(CASE WHEN " + sub.ResultColumn + " = ? THEN 1 ELSE 0 END), 0) AS pass, " +
		"COALESCE(SUM(CASE WHEN " + sub.ResultColumn + " = ? THEN 1 ELSE 0 END), 0) AS fail " +
		"FROM " + sub.Table + " WHERE " + w
	if err := db.Raw(q, append([]any{sub.Pass, sub.Fail}, args...)...).Scan(&row).Error; err != nil {
		return Counts{}, fmt.Errorf("%s counts: %w", sub.Name, err)
	}

	var groups []struct {
		Result *string
		Count  int64
	}
	q = "SELECT " + sub.ResultColumn + " AS result, COUNT(*) AS count FROM " + sub.Table +
		" WHERE " + w + " GROUP BY " + sub.ResultColumn
	if err := db.Raw(q, args...).Scan(&groups).Error; err != nil {
		return Counts{}, fmt.Errorf("%s breakdown: %w", sub.Name, err)
	}

	out := Counts{Total: row.Total, Pass: row.Pass, Fail: row.Fail, Breakdown: map[string]int64{}}
	out.Other = out.Total - out.Pass - out.Fail
	for _, g := range groups {
		key := "unknown"
		if g.Result != nil {
			key = *g.Result
		}
		out.Breakdown[key] += g.Count
	}
	return out, nil
}

// Lifetime classifies each serial by its latest verdict and whether the
// opposite verdict ever occurred.
type Lifetime struct {
	TotalTests    int64
	PassTests     int64
	FailTests     int64
	Entities      int64
	Success       int64
	Failed        int64
	AlwaysSuccess int64
	FinalSuccess  int64
	AlwaysFail    int64
	FinalFail     int64
}

// ranked is the CTE that numbers each serial's rows newest first.
func ranked(sub Subject, w string) string {
	return "ranked AS (SELECT " + sub.SerialColumn + " AS sn, " + sub.ResultColumn + " AS result, create_time, " +
		"ROW_NUMBER() OVER (PARTITION BY " + sub.SerialColumn + " ORDER BY create_time DESC, id DESC) AS rn " +
		"FROM " + sub.Table + " WHERE " + w + ")"
}

// history is the CTE that aggregates each serial's whole history.
func history(sub Subject, w string) string {
	return "history AS (SELECT " + sub.SerialColumn + " AS sn, COUNT(*) AS total_tests, " +
		"COALESCE(SUM(CASE WHEN " + sub.ResultColumn + " = ? THEN 1 ELSE 0 END), 0) AS pass_count, " +
		"COALESCE(SUM(CASE WHEN " + sub.ResultColumn + " = ? THEN 1 ELSE 0 END), 0) AS fail_count, " +
		"MIN(create_time) AS first_test_time, MAX(create_time) AS latest_test_time " +
		"FROM " + sub.Table + " WHERE " + w + " GROUP BY " + sub.SerialColumn + ")"
}

func (s *Service) Lifetime(ctx context.Context, sub Subject, f Filter) (Lifetime, error) {
	defer s.observe(sub, "lifetime", time.Now())
	var out Lifetime

	c, err := s.Counts(ctx, sub, Filter{From: f.From, To: f.To})
	if err != nil {
		return out, err
	}
	out.TotalTests, out.PassTests, out.FailTests = c.Total, c.Pass, c.Fail

	w, args := where(sub, Filter{From: f.From, To: f.To})
	q := "WITH " + ranked(sub, w) + ", " + history(sub, w) + " SELECT " +
		"COUNT(*) AS entities, " +
		"COALESCE(SUM(CASE WHEN r.result = ? THEN 1 ELSE 0 END), 0) AS success, " +
		"COALESCE(SUM(CASE WHEN r.result = ? THEN 1 ELSE 0 END), 0) AS failed, " +
		"COALESCE(SUM(CASE WHEN r.result = ? AND h.fail_count = 0 THEN 1 ELSE 0 END), 0) AS always_success, " +
		"COALESCE(SUM(CASE WHEN r.result = ? AND h.fail_count > 0 THEN 1 ELSE 0 END), 0) AS final_success, " +
		"COALESCE(SUM(CASE WHEN r.result = ? AND h.pass_count = 0 THEN 1 ELSE 0 END), 0) AS always_fail, " +
		"COALESCE(SUM(CASE WHEN r.result = ? AND h.pass_count > 0 THEN 1 ELSE 0 END), 0) AS final_fail " +
		"FROM ranked r JOIN history h ON r.sn = h.sn WHERE r.rn = 1"

	bind := make([]any, 0, 2*len(args)+8)
	bind = append(bind, args...)
	bind = append(bind, sub.Pass, sub.Fail)
	bind = append(bind, args...)
	bind = append(bind, sub.Pass, sub.Fail, sub.Pass, sub.Pass, sub.Fail, sub.Fail)

	var row struct {
		Entities      int64
		Success       int64
		Failed        int64
		AlwaysSuccess int64
		FinalSuccess  int64
		AlwaysFail    int64
		FinalFail     int64
	}
	if err := s.db.WithContext(ctx).Raw(q, bind...).Scan(&row).Error; err != nil {
		return out, fmt.Errorf("%s lifetime: %w", sub.Name, err)
	}
	out.Entities, out.Success, out.Failed = row.Entities, row.Success, row.Failed
	out.AlwaysSuccess, out.FinalSuccess = row.AlwaysSuccess, row.FinalSuccess
	out.AlwaysFail, out.FinalFail = row.AlwaysFail, row.FinalFail
	return out, nil
}

// Rollup is one serial's aggregated history.
type Rollup struct {
	Serial         string
	TotalTests     int64
	PassCount      int64
	FailCount      int64
	PassRate       float64
	FirstTestTime  *time.Time
	LatestTestTime *time.Time
	LatestResult   *string
}

// SortKeys are the accepted rollup sort fields.
var SortKeys = map[string]string{
	"sn":               "sn",
	"total_tests":      "total_tests",
	"pass_count":       "pass_count",
	"fail_count":       "fail_count",
	"pass_rate":        "pass_rate",
	"first_test_time":  "first_test_time",
	"latest_test_time": "latest_test_time",
	"latest_result":    "latest_result",
}

type Sort struct {
	Key  string
	Desc bool
}

var ErrInvalidSort = errors.New("invalid sort field")

// ParseSort reads comma separated sort_by and sort_order lists. A missing
// order entry repeats the last one given, defaulting to descending.
func ParseSort(sortBy, sortOrder string) ([]Sort, error) {
	if strings.TrimSpace(sortBy) == "" {
		sortBy = "total_tests"
	}
	orders := strings.Split(sortOrder, ",")
	var out []Sort
	desc := true
	for i, k := range strings.Split(sortBy, ",") {
		k = strings.TrimSpace(k)
		if _, ok := SortKeys[k]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSort, k)
		}
		if i < len(orders) {
			switch strings.ToLower(strings.TrimSpace(orders[i])) {
			case "asc":
				desc = false
			case "desc":
				desc = true
			}
		}
		out = append(out, Sort{Key: k, Desc: desc})
	}
	return out, nil
}

type RollupQuery struct {
	Filter
	// LatestResult filters on each serial's current verdict.
	LatestResult string
	Sort         []Sort
	Page         int
	PerPage      int
}

func (s *Service) Rollups(ctx context.Context, sub Subject, rq RollupQuery) ([]Rollup, int64, error) {
	defer s.observe(sub, "rollup", time.Now())
	w, args := where(sub, rq.Filter)

	ctes := "WITH " + ranked(sub, w) + ", " + history(sub, w) +
		", serials AS (SELECT h.sn AS sn, h.total_tests AS total_tests, h.pass_count AS pass_count, " +
		"h.fail_count AS fail_count, ROUND(h.pass_count * 100.0 / h.total_tests, 2) AS pass_rate, " +
		"h.first_test_time AS first_test_time, h.latest_test_time AS latest_test_time, r.result AS latest_result " +
		"FROM history h JOIN ranked r ON r.sn = h.sn AND r.rn = 1"

	bind := make([]any, 0, 2*len(args)+6)
	bind = append(bind, args...)
	bind = append(bind, sub.Pass, sub.Fail)
	bind = append(bind, args...)
	if rq.LatestResult != "" {
		ctes += " WHERE r.result = ?"
		bind = append(bind, rq.LatestResult)
	}
	ctes += ")"

	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Raw(ctes+" SELECT COUNT(*) FROM serials", bind...).Scan(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("%s rollup count: %w", sub.Name, err)
	}

	order := make([]string, 0, len(rq.Sort)+1)
	for _, srt := range rq.Sort {
		col, ok := SortKeys[srt.Key]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s", ErrInvalidSort, srt.Key)
		}
		dir := " ASC"
		if srt.Desc {
			dir = " DESC"
		}
		order = append(order, col+dir)
	}
	order = append(order, "sn ASC")

	page, perPage := repository.Normalize(rq.Page, rq.PerPage)
	q := ctes + " SELECT * FROM serials ORDER BY " + strings.Join(order, ", ") + " LIMIT ? OFFSET ?"
	bind = append(bind, perPage, repository.Offset(page, perPage))

	var rows []struct {
		Sn             string
		TotalTests     int64
		PassCount      int64
		FailCount      int64
		PassRate       float64
		FirstTestTime  models.FlexTime
		LatestTestTime models.FlexTime
		LatestResult   *string
	}
	if err := db.Raw(q, bind...).Scan(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("%s rollup: %w", sub.Name, err)
	}
	out := make([]Rollup, 0, len(rows))
	for _, r := range rows {
		out = append(out, Rollup{
			Serial:         r.Sn,
			TotalTests:     r.TotalTests,
			PassCount:      r.PassCount,
			FailCount:      r.FailCount,
			PassRate:       r.PassRate,
			FirstTestTime:  r.FirstTestTime.Ptr(s.loc),
			LatestTestTime: r.LatestTestTime.Ptr(s.loc),
			LatestResult:   r.LatestResult,
		})
	}
	return out, total, nil
}

type Interval string

const (
	Day   Interval = "day"
	Week  Interval = "week"
	Month Interval = "month"
)

var ErrInvalidInterval = errors.New("invalid interval, use day, week or month")

func ParseInterval(s string) (Interval, error) {
	switch Interval(strings.ToLower(strings.TrimSpace(s))) {
	case "", Day:
		return Day, nil
	case Week:
		return Week, nil
	case Month:
		return Month, nil
	}
	return "", ErrInvalidInterval
}

type Bucket struct {
	Period  string `json:"time_period"`
	Total   int64  `json:"total_tests"`
	Success int64  `json:"success_count"`
	Fail    int64  `json:"fail_count"`
}

// bucketExpr renders create_time, shifted into the display zone, as the
// YYYY-MM-DD label of its bucket. Week buckets start on Monday.
func bucketExpr(dialect string, iv Interval, offsetHours int) (string, error) {
	h := strconv.Itoa(offsetHours)
	switch dialect {
	case "postgres":
		local := "((create_time AT TIME ZONE 'UTC') + INTERVAL '" + h + " hours')"
		switch iv {
		case Week:
			return "to_char(date_trunc('week', " + local + "), 'YYYY-MM-DD')", nil
		case Month:
			return "to_char(" + local + ", 'YYYY-MM-01')", nil
		default:
			return "to_char(" + local + ", 'YYYY-MM-DD')", nil
		}
	case "mysql":
		local := "DATE_ADD(create_time, INTERVAL " + h + " HOUR)"
		switch iv {
		case Week:
			return "DATE_FORMAT(DATE_SUB(" + local + ", INTERVAL WEEKDAY(" + local + ") DAY), '%Y-%m-%d')", nil
		case Month:
			return "DATE_FORMAT(" + local + ", '%Y-%m-01')", nil
		default:
			return "DATE_FORMAT(" + local + ", '%Y-%m-%d')", nil
		}
	case "sqlite":
		shift := "'" + fmt.Sprintf("%+d", offsetHours) + " hours'"
		switch iv {
		case Week:
			return "strftime('%Y-%m-%d', create_time, " + shift + ", 'weekday 0', '-6 days')", nil
		case Month:
			return "strftime('%Y-%m-01', create_time, " + shift + ")", nil
		default:
			return "strftime('%Y-%m-%d', create_time, " + shift + ")", nil
		}
	}
	return "", fmt.Errorf("time buckets not supported on %s", dialect)
}

// Trend counts verdicts per bucket, oldest first.
func (s *Service) Trend(ctx context.Context, sub Subject, iv Interval, f Filter) ([]Bucket, error) {
	defer s.observe(sub, "trend", time.Now())
	expr, err := bucketExpr(s.db.Dialector.Name(), iv, s.offsetHours)
	if err != nil {
		return nil, err
	}
	w, args := where(sub, f)
	q := "SELECT " + expr + " AS period, COUNT(*) AS total, " +
		"COALESCE(SUM(CASE WHEN " + sub.ResultColumn + " = ? THEN 1 ELSE 0 END), 0) AS success, " +
		"COALESCE(SUM(CASE WHEN " + sub.ResultColumn + " = ? THEN 1 ELSE 0 END), 0) AS fail " +
		"FROM " + sub.Table + " WHERE " + w + " GROUP BY 1 ORDER BY 1 ASC"

	out := []Bucket{}
	if err := s.db.WithContext(ctx).Raw(q, append([]any{sub.Pass, sub.Fail}, args...)...).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("%s trend: %w", sub.Name, err)
	}
	return out, nil
}

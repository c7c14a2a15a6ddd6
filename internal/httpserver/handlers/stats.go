package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"rigdata/internal/repository"
	"rigdata/internal/stats"
	"rigdata/internal/timerange"
)

// Stats serves the aggregate endpoints of one subject.
type Stats struct {
	Sub stats.Subject
	Svc *stats.Service
	Log *zap.SugaredLogger
	Now func() time.Time
}

func NewStats(sub stats.Subject, svc *stats.Service, lg *zap.SugaredLogger) *Stats {
	return &Stats{Sub: sub, Svc: svc, Log: lg, Now: time.Now}
}

func (h *Stats) filter(w http.ResponseWriter, r *http.Request) (stats.Filter, bool) {
	q := r.URL.Query()
	rng, err := timerange.FromQuery(q, h.Svc.Location())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return stats.Filter{}, false
	}
	return stats.Filter{
		From:   rng.From,
		To:     rng.To,
		Serial: strings.TrimSpace(q.Get(h.Sub.SerialColumn)),
		Result: strings.TrimSpace(q.Get(h.Sub.ResultColumn)),
	}, true
}

// Counts answers <prefix>/stats.
func (h *Stats) Counts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := h.filter(w, r)
		if !ok {
			return
		}
		c, err := h.Svc.Counts(r.Context(), h.Sub, f)
		if err != nil {
			internalError(w, r, h.Log, "stats counts", err)
			return
		}
		q := r.URL.Query()
		respondJSON(w, http.StatusOK, map[string]any{
			"total_count":   c.Total,
			"success_count": c.Pass,
			"fail_count":    c.Fail,
			"other_count":   c.Other,
			"breakdown":     c.Breakdown,
			"filters": map[string]any{
				"start_date":       nullable(q.Get("start_date")),
				"end_date":         nullable(q.Get("end_date")),
				h.Sub.SerialColumn: nullable(q.Get(h.Sub.SerialColumn)),
				h.Sub.ResultColumn: nullable(q.Get(h.Sub.ResultColumn)),
			},
		})
		h.Log.Infow("stats counts", "subject", h.Sub.Name, "total", c.Total, "pass", c.Pass, "fail", c.Fail)
	}
}

// Lifetime answers <prefix>/boards-stats.
func (h *Stats) Lifetime() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := h.filter(w, r)
		if !ok {
			return
		}
		lt, err := h.Svc.Lifetime(r.Context(), h.Sub, f)
		if err != nil {
			internalError(w, r, h.Log, "stats lifetime", err)
			return
		}
		n := h.Sub.Noun
		q := r.URL.Query()
		respondJSON(w, http.StatusOK, map[string]any{
			"test_stats": map[string]int64{
				"total_tests":   lt.TotalTests,
				"success_tests": lt.PassTests,
				"fail_tests":    lt.FailTests,
			},
			n + "_stats": map[string]any{
				"total_" + n + "s":   lt.Entities,
				"success_" + n + "s": lt.Success,
				"fail_" + n + "s":    lt.Failed,
				"success_breakdown": map[string]int64{
					"always_success": lt.AlwaysSuccess,
					"final_success":  lt.FinalSuccess,
				},
				"fail_breakdown": map[string]int64{
					"always_fail": lt.AlwaysFail,
					"final_fail":  lt.FinalFail,
				},
			},
			"filters": map[string]any{
				"start_date": nullable(q.Get("start_date")),
				"end_date":   nullable(q.Get("end_date")),
			},
		})
	}
}

// Trend answers <prefix>/time-stats. Without a date range it covers the
// subject's trailing window.
func (h *Stats) Trend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		iv, err := stats.ParseInterval(q.Get("interval"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid interval. Must be one of: day, week, month")
			return
		}
		f, ok := h.filter(w, r)
		if !ok {
			return
		}
		rng := timerange.Range{From: f.From, To: f.To}.Trailing(h.Now(), h.Sub.TrendDays)
		f.From, f.To = rng.From, rng.To

		buckets, err := h.Svc.Trend(r.Context(), h.Sub, iv, f)
		if err != nil {
			internalError(w, r, h.Log, "stats trend", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"time_stats": buckets,
			"filters": map[string]any{
				"start_date": nullable(q.Get("start_date")),
				"end_date":   nullable(q.Get("end_date")),
				"interval":   string(iv),
			},
		})
	}
}

// Rollups answers <prefix>/sn-stats.
func (h *Stats) Rollups() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f, ok := h.filter(w, r)
		if !ok {
			return
		}
		sorts, err := stats.ParseSort(q.Get("sort_by"), q.Get("sort_order"))
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		page, perPage := repository.Normalize(queryInt(r, "page", 1), queryInt(r, "per_page", 10))

		// /sn-stats filters on the current verdict, not on every row
		latest := strings.TrimSpace(q.Get("latest_result"))
		f.Result = ""

		rows, total, err := h.Svc.Rollups(r.Context(), h.Sub, stats.RollupQuery{
			Filter:       f,
			LatestResult: latest,
			Sort:         sorts,
			Page:         page,
			PerPage:      perPage,
		})
		if err != nil {
			internalError(w, r, h.Log, "stats rollup", err)
			return
		}

		out := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			out = append(out, map[string]any{
				h.Sub.SerialColumn: row.Serial,
				"total_tests":      row.TotalTests,
				"pass_count":       row.PassCount,
				"fail_count":       row.FailCount,
				"pass_rate":        row.PassRate,
				"first_test_time":  row.FirstTestTime,
				"latest_test_time": row.LatestTestTime,
				"latest_result":    row.LatestResult,
			})
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"sn_stats":   out,
			"pagination": newPagination(page, perPage, total),
			"filters": map[string]any{
				"start_date":       nullable(q.Get("start_date")),
				"end_date":         nullable(q.Get("end_date")),
				h.Sub.SerialColumn: nullable(q.Get(h.Sub.SerialColumn)),
				"latest_result":    nullable(latest),
				"sort_by":          nullable(q.Get("sort_by")),
				"sort_order":       nullable(q.Get("sort_order")),
			},
		})
	}
}

// Mount registers the four endpoints on r behind read.
func (h *Stats) Mount(r chi.Router, read func(http.Handler) http.Handler) {
	r.With(read).Get("/stats", h.Counts())
	r.With(read).Get("/boards-stats", h.Lifetime())
	r.With(read).Get("/time-stats", h.Trend())
	r.With(read).Get("/sn-stats", h.Rollups())
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-scheduler/internal/api"
	"github.com/hackgods/clinic-booking-scheduler/internal/availability"
	"github.com/hackgods/clinic-booking-scheduler/internal/logging"
)

// The simulator drives a running api-server with many clients competing for
// the same slots, then checks every calendar for overlapping bookings.

type simConfig struct {
	BaseURL      string
	Duration     time.Duration
	Workers      int
	HorizonDays  int
	ReserveRatio float64
	ConfirmRatio float64
	CancelRatio  float64
}

type opStats struct {
	total     atomic.Int64
	success   atomic.Int64
	conflict  atomic.Int64
	failed    atomic.Int64
	mu        sync.Mutex
	latencies []time.Duration
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeConflict
	outcomeFailed
)

func (s *opStats) record(latency time.Duration, o outcome) {
	s.total.Add(1)
	switch o {
	case outcomeOK:
		s.success.Add(1)
	case outcomeConflict:
		s.conflict.Add(1)
	default:
		s.failed.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, latency)
	s.mu.Unlock()
}

func (s *opStats) percentiles() (p50, p95, max time.Duration) {
	s.mu.Lock()
	sorted := append([]time.Duration(nil), s.latencies...)
	s.mu.Unlock()
	if len(sorted) == 0 {
		return 0, 0, 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(pct int) time.Duration {
		i := len(sorted) * pct / 100
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return sorted[i]
	}
	return at(50), at(95), sorted[len(sorted)-1]
}

// calendar caches one practitioner's free slots between searches.
type calendar struct {
	id    uuid.UUID
	mu    sync.Mutex
	slots []api.SlotBody
}

func (c *calendar) pick(rng *rand.Rand) (api.SlotBody, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.slots) == 0 {
		return api.SlotBody{}, false
	}
	return c.slots[rng.Intn(len(c.slots))], true
}

func (c *calendar) replace(slots []api.SlotBody) {
	c.mu.Lock()
	c.slots = slots
	c.mu.Unlock()
}

type simulator struct {
	cfg       simConfig
	client    *http.Client
	logger    zerolog.Logger
	calendars []*calendar

	mu       sync.Mutex
	bookings []uuid.UUID

	reserve, confirm, cancel, search opStats
}

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := logging.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"), "simulate")

	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		logger.Fatal().Int("workers", cfg.Workers).Dur("duration", cfg.Duration).Msg("SIM_WORKERS and SIM_DURATION must be > 0")
	}

	sim := &simulator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sim.loadCalendars(ctx); err != nil {
		logger.Fatal().Err(err).Msg("load practitioners")
	}
	logger.Info().Int("practitioners", len(sim.calendars)).Int("workers", cfg.Workers).Dur("duration", cfg.Duration).Msg("simulation starting")

	sim.run()
	sim.report()

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), time.Minute)
	defer cancelCheck()
	overlaps, err := sim.verify(checkCtx)
	if err != nil {
		logger.Fatal().Err(err).Msg("verify calendars")
	}
	if overlaps > 0 {
		logger.Error().Int("overlaps", overlaps).Msg("calendars hold overlapping bookings")
		os.Exit(1)
	}
	logger.Info().Msg("no overlapping bookings found")
}

func loadConfig() simConfig {
	cfg := simConfig{
		BaseURL:      strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		HorizonDays:  getInt("SIM_HORIZON_DAYS", 7),
		ReserveRatio: getFloat("SIM_RESERVE_RATIO", 0.6),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
	}
	// whatever is left over goes to slot searches
	if total := cfg.ReserveRatio + cfg.ConfirmRatio + cfg.CancelRatio; total > 1 {
		cfg.ReserveRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
	}
	return cfg
}

func (s *simulator) loadCalendars(ctx context.Context) error {
	var list []api.PractitionerResponse
	if _, err := s.getJSON(ctx, "/practitioners/", &list); err != nil {
		return err
	}
	if len(list) == 0 {
		return errors.New("no practitioners, run cmd/seed first")
	}
	for _, p := range list {
		s.calendars = append(s.calendars, &calendar{id: p.ID})
	}
	return nil
}

func (s *simulator) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for ctx.Err() == nil {
				s.step(ctx, rng)
			}
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()
}

func (s *simulator) step(ctx context.Context, rng *rand.Rand) {
	cal := s.calendars[rng.Intn(len(s.calendars))]
	r := rng.Float64()
	switch {
	case r < s.cfg.ReserveRatio:
		s.doReserve(ctx, rng, cal)
	case r < s.cfg.ReserveRatio+s.cfg.ConfirmRatio:
		s.doTransition(ctx, rng, "confirm", &s.confirm)
	case r < s.cfg.ReserveRatio+s.cfg.ConfirmRatio+s.cfg.CancelRatio:
		s.doTransition(ctx, rng, "cancel", &s.cancel)
	default:
		s.doSearch(ctx, cal)
	}
}

func (s *simulator) doSearch(ctx context.Context, cal *calendar) {
	from := time.Now().Format(time.DateOnly)
	to := time.Now().AddDate(0, 0, s.cfg.HorizonDays-1).Format(time.DateOnly)

	var slots []api.SlotBody
	start := time.Now()
	status, err := s.getJSON(ctx, fmt.Sprintf("/practitioners/%s/slots?from=%s&to=%s", cal.id, from, to), &slots)
	if ctx.Err() != nil {
		return
	}
	if err != nil || status != http.StatusOK {
		s.search.record(time.Since(start), outcomeFailed)
		return
	}
	s.search.record(time.Since(start), outcomeOK)
	cal.replace(slots)
}

func (s *simulator) doReserve(ctx context.Context, rng *rand.Rand, cal *calendar) {
	slot, ok := cal.pick(rng)
	if !ok {
		s.doSearch(ctx, cal)
		return
	}

	body, _ := json.Marshal(api.ReserveRequest{SlotBody: slot, ClientID: "sim-" + strconv.Itoa(rng.Intn(10000))})
	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, "/bookings", body)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.reserve.record(latency, outcomeFailed)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var b api.BookingResponse
		if err := json.NewDecoder(resp.Body).Decode(&b); err == nil {
			s.mu.Lock()
			s.bookings = append(s.bookings, b.ID)
			s.mu.Unlock()
		}
		s.reserve.record(latency, outcomeOK)
	case http.StatusConflict:
		var c api.ConflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&c); err == nil {
			cal.replace(c.AvailableSlots)
		}
		s.reserve.record(latency, outcomeConflict)
	default:
		s.reserve.record(latency, outcomeFailed)
	}
}

func (s *simulator) doTransition(ctx context.Context, rng *rand.Rand, action string, stats *opStats) {
	s.mu.Lock()
	if len(s.bookings) == 0 {
		s.mu.Unlock()
		return
	}
	id := s.bookings[rng.Intn(len(s.bookings))]
	s.mu.Unlock()

	start := time.Now()
	resp, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/bookings/%s/%s", id, action), nil)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		stats.record(latency, outcomeFailed)
		return
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		stats.record(latency, outcomeOK)
	case http.StatusConflict:
		stats.record(latency, outcomeConflict)
	default:
		stats.record(latency, outcomeFailed)
	}
}

// verify lists every calendar over the horizon and counts pairs of
// interval-holding bookings that overlap.
func (s *simulator) verify(ctx context.Context) (int, error) {
	from := time.Now().Format(time.DateOnly)
	to := time.Now().AddDate(0, 0, s.cfg.HorizonDays-1).Format(time.DateOnly)

	overlaps := 0
	for _, cal := range s.calendars {
		var list []api.BookingResponse
		status, err := s.getJSON(ctx, fmt.Sprintf("/practitioners/%s/bookings?from=%s&to=%s", cal.id, from, to), &list)
		if err != nil {
			return overlaps, err
		}
		if status != http.StatusOK {
			return overlaps, fmt.Errorf("list bookings for %s: status %d", cal.id, status)
		}

		held := list[:0]
		for _, b := range list {
			if b.Status != "cancelled" {
				held = append(held, b)
			}
		}
		for i := 0; i < len(held); i++ {
			for j := i + 1; j < len(held); j++ {
				if overlapping(held[i], held[j]) {
					overlaps++
					s.logger.Error().
						Str("practitioner_id", cal.id.String()).
						Str("a", held[i].ID.String()).
						Str("b", held[j].ID.String()).
						Msg("overlapping bookings")
				}
			}
		}
	}
	return overlaps, nil
}

func overlapping(a, b api.BookingResponse) bool {
	if a.Date != b.Date {
		return false
	}
	minutes := func(s string) int {
		t, err := availability.ParseTimeOfDay(s)
		if err != nil {
			return -1
		}
		return availability.Minutes(t)
	}
	return minutes(a.StartTime) < minutes(b.EndTime) && minutes(b.StartTime) < minutes(a.EndTime)
}

func (s *simulator) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "simulator")
	return s.client.Do(req)
}

func (s *simulator) getJSON(ctx context.Context, path string, v any) (int, error) {
	resp, err := s.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(v)
}

func (s *simulator) report() {
	fmt.Println("\n" + strings.Repeat("=", 72))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("Duration: %s  Workers: %d  Practitioners: %d\n\n", s.cfg.Duration, s.cfg.Workers, len(s.calendars))

	for _, row := range []struct {
		name  string
		stats *opStats
	}{
		{"Reserve", &s.reserve},
		{"Confirm", &s.confirm},
		{"Cancel", &s.cancel},
		{"Slot search", &s.search},
	} {
		total := row.stats.total.Load()
		if total == 0 {
			continue
		}
		pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
		p50, p95, max := row.stats.percentiles()
		fmt.Printf("%s:\n", row.name)
		fmt.Printf("  total=%d ok=%.1f%% conflict=%.1f%% failed=%.1f%%\n",
			total, pct(row.stats.success.Load()), pct(row.stats.conflict.Load()), pct(row.stats.failed.Load()))
		fmt.Printf("  latency p50=%s p95=%s max=%s\n\n",
			p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

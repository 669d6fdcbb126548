package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
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

	"github.com/docpoint/booking-engine/internal/auth"
	"github.com/docpoint/booking-engine/internal/config"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	CancelRatio  float64
	ReadRatio    float64
	PatientCount int
	SlotCount    int
}

type simPatient struct {
	ID    uuid.UUID
	Token string
}

type createdBooking struct {
	ID         uuid.UUID
	Owner      simPatient
	PaymentRef string
}

type DataPool struct {
	Patients   []simPatient
	Slots      []time.Time
	AdminToken string

	mu       sync.RWMutex
	bookings []createdBooking
}

func (dp *DataPool) AddBooking(b createdBooking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) RandomBooking(rng *rand.Rand) (createdBooking, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return createdBooking{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking   OperationMetrics
	Confirm   OperationMetrics
	Cancel    OperationMetrics
	ListMine  OperationMetrics
	AdminList OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := loadSimConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f confirm=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.ConfirmRatio, cfg.CancelRatio, cfg.ReadRatio)

	dataPool, err := buildDataPool(cfg, baseCfg)
	if err != nil {
		log.Fatalf("build data pool: %v", err)
	}

	log.Printf("generated: %d patients, %d slot keys", len(dataPool.Patients), len(dataPool.Slots))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.4),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientCount: getInt("SIM_PATIENTS", 500),
		SlotCount:    getInt("SIM_SLOTS", 2000),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ConfirmRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// buildDataPool mints identities locally against the shared JWT secret; the
// identity provider is external to the engine, so the simulator plays it.
func buildDataPool(cfg SimConfig, baseCfg config.Config) (*DataPool, error) {
	tokens := auth.NewTokenService(baseCfg.JWTSecret, baseCfg.TokenTTL)

	pool := &DataPool{}

	for i := 0; i < cfg.PatientCount; i++ {
		id := uuid.New()
		tok, err := tokens.Sign(id, auth.RolePatient)
		if err != nil {
			return nil, fmt.Errorf("sign patient token: %w", err)
		}
		pool.Patients = append(pool.Patients, simPatient{ID: id, Token: tok})
	}

	adminTok, err := tokens.Sign(uuid.New(), auth.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("sign admin token: %w", err)
	}
	pool.AdminToken = adminTok

	// Hourly slot keys starting tomorrow; a deliberately small pool so
	// workers collide on slots and exercise the conflict path.
	start := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	for i := 0; i < cfg.SlotCount; i++ {
		pool.Slots = append(pool.Slots, start.Add(time.Duration(i)*time.Hour))
	}

	return pool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.ConfirmRatio:
				s.doConfirm(ctx, rng)
			case r < s.config.BookingRatio+s.config.ConfirmRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doListMine(ctx, rng)
				} else {
					s.doAdminList(ctx)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	reqBody := map[string]any{
		"patient_details": map[string]any{
			"name":    fmt.Sprintf("Sim Patient %d", rng.Intn(10000)),
			"age":     rng.Intn(70) + 18,
			"gender":  []string{"Male", "Female", "Other"}[rng.Intn(3)],
			"phone":   "+15550100",
			"address": "42 Simulation Way",
		},
		"slot_start": slot.Format(time.RFC3339),
	}
	body, _ := json.Marshal(reqBody)

	start := time.Now()
	resp, err := s.doRequest(ctx, "POST", "/appointments", patient.Token, body)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusCreated {
			success = true
			var created struct {
				Appointment struct {
					ID uuid.UUID `json:"id"`
				} `json:"appointment"`
				PaymentRef string `json:"payment_ref"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(bodyBytes, &created) == nil && created.Appointment.ID != uuid.Nil {
				s.pool.AddBooking(createdBooking{
					ID:         created.Appointment.ID,
					Owner:      patient,
					PaymentRef: created.PaymentRef,
				})
			}
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"payment_ref": b.PaymentRef})

	start := time.Now()
	resp, err := s.doRequest(ctx, "POST",
		fmt.Sprintf("/appointments/%s/confirm", b.ID), b.Owner.Token, body)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			success = true
		case http.StatusConflict, http.StatusGone:
			conflict = true
		}
	}

	s.metrics.Confirm.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.doRequest(ctx, "POST",
		fmt.Sprintf("/appointments/%s/cancel", b.ID), b.Owner.Token, nil)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			success = true
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()
	resp, err := s.doRequest(ctx, "GET", "/appointments", patient.Token, nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ListMine.Record(latency, success, false)
}

func (s *Simulator) doAdminList(ctx context.Context) {
	start := time.Now()
	resp, err := s.doRequest(ctx, "GET", "/admin/appointments?limit=50", s.pool.AdminToken, nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.AdminList.Record(latency, success, false)
}

func (s *Simulator) doRequest(ctx context.Context, method, path, token string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return s.client.Do(req)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List Mine", &s.metrics.ListMine)
	printOperationReport("Admin List", &s.metrics.AdminList)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

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

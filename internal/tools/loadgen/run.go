package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config drives synthetic /check traffic against a running service.
type Config struct {
	BaseURL string
	// Profile selects the hwid mix: "check" polls the provided keys,
	// "unknown" polls random keys, "mixed" alternates between the two.
	Profile string
	// HWIDs are known license keys used by the check and mixed profiles.
	HWIDs       []string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
	// LicenseStatuses counts the status codes the service reported.
	LicenseStatuses map[string]int
}

// Run generates polling traffic for the configured duration and reports
// aggregate outcomes. Transport errors count as failures; any decoded
// response body counts as a served request.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.RPS <= 0 || cfg.Concurrency <= 0 || cfg.Duration <= 0 {
		return Result{}, fmt.Errorf("rps, concurrency and duration must be positive")
	}
	profile := normalizeProfile(cfg.Profile)
	if profile == "check" && len(cfg.HWIDs) == 0 {
		return Result{}, fmt.Errorf("profile %q needs at least one hwid", profile)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	targets := make(chan string)
	client := &http.Client{Timeout: 10 * time.Second}

	res := Result{StatusClasses: map[string]int{}, LicenseStatuses: map[string]int{}}
	var mu sync.Mutex

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(targets)
		ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				select {
				case targets <- pickHWID(profile, cfg.HWIDs, rng):
				case <-gctx.Done():
					return nil
				}
			}
		}
	})

	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for hwid := range targets {
				status, httpStatus, err := poll(gctx, client, cfg.BaseURL, hwid)
				mu.Lock()
				res.TotalRequests++
				if err != nil {
					res.Failures++
				} else {
					res.StatusClasses[classifyStatusClass(httpStatus)]++
					res.LicenseStatuses[status]++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func poll(ctx context.Context, client *http.Client, baseURL, hwid string) (string, int, error) {
	target := baseURL + "/check?hwid=" + url.QueryEscape(hwid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", resp.StatusCode, err
	}
	return body.Status, resp.StatusCode, nil
}

func pickHWID(profile string, hwids []string, rng *rand.Rand) string {
	known := func() string { return hwids[rng.Intn(len(hwids))] }
	unknown := func() string { return fmt.Sprintf("loadgen-%016x", rng.Uint64()) }
	switch profile {
	case "check":
		return known()
	case "unknown":
		return unknown()
	default:
		if len(hwids) == 0 {
			return unknown()
		}
		if rng.Intn(2) == 0 {
			return known()
		}
		return unknown()
	}
}

func normalizeProfile(raw string) string {
	p := strings.ToLower(strings.TrimSpace(raw))
	switch p {
	case "check", "unknown", "mixed":
		return p
	default:
		return "mixed"
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

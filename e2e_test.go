package meetpoint_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sophialabs/meetpoint/internal/domain/meeting"
	"github.com/sophialabs/meetpoint/internal/infrastructure/outbound/transit"
	"github.com/sophialabs/meetpoint/internal/infrastructure/wiring"
	"github.com/sophialabs/meetpoint/internal/testutil"
)

// Travel minutes by "SID-EID" served by the fake routing service.
var travelMinutes = map[string]int{
	"240-222": 31, "226-222": 10, "202-222": 20,
	"240-133": 12, "226-133": 25, "202-133": 5,
}

type fakeTransit struct {
	routeCalls atomic.Int64
}

func (f *fakeTransit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/subwayPath":
		f.routeCalls.Add(1)
		minutes, ok := travelMinutes[q.Get("SID")+"-"+q.Get("EID")]
		if !ok {
			_, _ = io.WriteString(w, `{"error":{"code":"-98","msg":"no route"}}`)
			return
		}
		fmt.Fprintf(w, `{"result":{"globalTravelTime":%d,"driveInfoSet":{"driveInfo":[{"laneName":"2호선"}]}}}`, minutes)
	case "/searchStation":
		if q.Get("stationName") != "을지로입구" {
			_, _ = io.WriteString(w, `{"result":{"station":[]}}`)
			return
		}
		_, _ = io.WriteString(w, `{"result":{"station":[{"stationName":"을지로입구","stationID":202,"x":126.982,"y":37.566}]}}`)
	default:
		http.NotFound(w, r)
	}
}

func setupE2EServer(t *testing.T) (*httptest.Server, *fakeTransit) {
	t.Helper()

	upstream := &fakeTransit{}
	transitSrv := httptest.NewServer(upstream)
	t.Cleanup(transitSrv.Close)

	tc := transit.DefaultConfig()
	tc.BaseURL = transitSrv.URL
	tc.Timeout = 2 * time.Second

	c, err := wiring.New(wiring.Params{
		CatalogPath:          "testdata/stations",
		Transit:              tc,
		TransitResolves:      true,
		CacheEnabled:         true,
		CacheSize:            64,
		CacheTTL:             time.Minute,
		HistorySize:          20,
		RateLimiterTTL:       time.Minute,
		CandidateConcurrency: 2,
		MaxInFlight:          4,
		Scorer:               meeting.DefaultScorer(),
		Logger:               &testutil.NoopLogger{},
	})
	if err != nil {
		t.Fatalf("failed to wire: %v", err)
	}
	t.Cleanup(c.Close)

	if err := c.Catalog().Reload(context.Background()); err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}

	ts := httptest.NewServer(c.Server())
	t.Cleanup(ts.Close)
	return ts, upstream
}

const meetingJSON = `{
  "participants": [
    {"name": "A", "origin": "신촌역"},
    {"name": "B", "origin": "사당"},
    {"name": "C", "origin": "을지로입구"}
  ],
  "candidates": [
    {"name": "Gangnam"},
    {"name": "Seoul Station"},
    {"name": "Atlantis"}
  ]
}`

type submitResponse struct {
	SnapshotID uint64   `json:"snapshot_id"`
	Unresolved []string `json:"unresolved"`
}

type latestResponse struct {
	SnapshotID uint64 `json:"snapshot_id"`
	Status     string `json:"status"`
	Ranking    []int  `json:"ranking"`
	Summaries  []struct {
		Candidate struct {
			StationID int `json:"station_id"`
		} `json:"candidate"`
		AverageTravelTime *int   `json:"average_travel_time"`
		SuccessCount      int    `json:"success_count"`
		Rating            string `json:"rating"`
	} `json:"summaries"`
}

func submit(t *testing.T, baseURL string) submitResponse {
	t.Helper()
	resp, err := http.Post(baseURL+"/api/meetings", "application/json", strings.NewReader(meetingJSON))
	if err != nil {
		t.Fatalf("POST /api/meetings failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, body)
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func waitForSnapshot(t *testing.T, baseURL string, id uint64) latestResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/api/meetings/latest")
		if err != nil {
			t.Fatalf("GET latest failed: %v", err)
		}
		if resp.StatusCode == http.StatusOK {
			var u latestResponse
			err := json.NewDecoder(resp.Body).Decode(&u)
			resp.Body.Close()
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if u.SnapshotID == id {
				return u
			}
		} else {
			resp.Body.Close()
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("snapshot %d never completed", id)
	return latestResponse{}
}

func TestE2E_HealthCheck(t *testing.T) {
	ts, _ := setupE2EServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestE2E_StationLookup(t *testing.T) {
	ts, _ := setupE2EServer(t)

	tests := []struct {
		name   string
		status int
		id     int
	}{
		{"홍대", http.StatusOK, 239},            // catalog alias
		{"을지로입구", http.StatusOK, 202},         // routing service fallback
		{"Atlantis", http.StatusNotFound, 0}, // neither
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/api/stations/" + tt.name)
			if err != nil {
				t.Fatalf("GET failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			if tt.status != http.StatusOK {
				return
			}
			var info struct {
				StationID int `json:"station_id"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if info.StationID != tt.id {
				t.Errorf("station_id = %d, want %d", info.StationID, tt.id)
			}
		})
	}
}

func TestE2E_MeetingFlow(t *testing.T) {
	ts, upstream := setupE2EServer(t)

	sub := submit(t, ts.URL)
	if len(sub.Unresolved) != 1 || sub.Unresolved[0] != "Atlantis" {
		t.Errorf("unresolved = %v", sub.Unresolved)
	}

	u := waitForSnapshot(t, ts.URL, sub.SnapshotID)
	if u.Status != "completed" {
		t.Fatalf("status = %q", u.Status)
	}
	if len(u.Summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(u.Summaries))
	}

	gangnam, seoul := u.Summaries[0], u.Summaries[1]
	if gangnam.Candidate.StationID != 222 || seoul.Candidate.StationID != 133 {
		t.Fatalf("summaries out of input order: %+v", u.Summaries)
	}
	if gangnam.AverageTravelTime == nil || *gangnam.AverageTravelTime != 1220 || gangnam.Rating != "good" {
		t.Errorf("unexpected 강남 summary: %+v", gangnam)
	}
	if seoul.AverageTravelTime == nil || *seoul.AverageTravelTime != 840 || seoul.Rating != "excellent" {
		t.Errorf("unexpected 서울 summary: %+v", seoul)
	}
	if len(u.Ranking) != 2 || u.Ranking[0] != 133 || u.Ranking[1] != 222 {
		t.Errorf("ranking = %v, want [133 222]", u.Ranking)
	}
	if n := upstream.routeCalls.Load(); n != 6 {
		t.Errorf("expected 6 route queries, got %d", n)
	}

	// Report reflects the same result.
	resp, err := http.Get(ts.URL + "/api/meetings/latest/report")
	if err != nil {
		t.Fatalf("GET report failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	report := string(body)
	if !strings.Contains(report, "1. 서울: 14m0s average") {
		t.Errorf("report missing ranked 서울 line:\n%s", report)
	}

	// Resubmitting is served from the route cache.
	again := submit(t, ts.URL)
	if again.SnapshotID <= sub.SnapshotID {
		t.Errorf("snapshot IDs not increasing: %d then %d", sub.SnapshotID, again.SnapshotID)
	}
	waitForSnapshot(t, ts.URL, again.SnapshotID)
	if n := upstream.routeCalls.Load(); n != 6 {
		t.Errorf("expected cached routes, upstream saw %d queries", n)
	}

	resp, err = http.Get(ts.URL + "/__admin/cache")
	if err != nil {
		t.Fatalf("GET cache failed: %v", err)
	}
	var stats struct {
		Hits uint64 `json:"hits"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()
	if stats.Hits != 6 {
		t.Errorf("cache hits = %d, want 6", stats.Hits)
	}

	resp, err = http.Get(ts.URL + "/__admin/runs?limit=" + strconv.Itoa(10))
	if err != nil {
		t.Fatalf("GET runs failed: %v", err)
	}
	var runs []struct {
		SnapshotID uint64 `json:"snapshot_id"`
		Outcome    string `json:"outcome"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&runs)
	resp.Body.Close()
	completed := 0
	for _, r := range runs {
		if r.Outcome == "completed" {
			completed++
		}
	}
	if completed != 2 {
		t.Errorf("expected 2 completed runs in history, got %+v", runs)
	}
}

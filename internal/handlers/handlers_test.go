package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"timing-backend/internal/auth"
	"timing-backend/internal/feed"
	"timing-backend/internal/localstore"
	"timing-backend/internal/models"
	"timing-backend/internal/session"
	"timing-backend/internal/store"
	"timing-backend/internal/syncengine"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	srv   http.Handler
	svc   *session.Service
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T, devMode bool, opts Options) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	svc := session.New(session.Options{
		Remote:   store.NewMemoryStore(),
		Local:    localstore.NewMemoryStore(),
		Clock:    clock,
		Sync:     syncengine.Config{WriteTimeout: time.Second, FlushMaxAttempts: 1},
		Hold:     time.Hour,
		Location: time.UTC,
	})
	t.Cleanup(svc.Close)

	mux := http.NewServeMux()
	New(svc, feed.NewHub(), opts).RegisterRoutes(mux)
	srv := auth.Middleware(devMode, auth.AdminSet([]string{"chief"}), opts.AuthSecret)(mux)
	return &fixture{srv: srv, svc: svc, clock: clock}
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false, Options{AuthSecret: "s"})
	rec := f.do(t, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestRaceOperationsRequireJoin(t *testing.T) {
	f := newFixture(t, true, Options{})
	rec := f.do(t, "POST", "/api/starts", `{"riderNumber":"101"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("start before join = %d, want 409", rec.Code)
	}

	rec = f.do(t, "PUT", "/api/race", `{"raceId":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("join blank race = %d, want 400", rec.Code)
	}
}

func TestStartFinishAndResults(t *testing.T) {
	f := newFixture(t, true, Options{})
	if rec := f.do(t, "PUT", "/api/race", `{"raceId":"enduro-1"}`); rec.Code != http.StatusOK {
		t.Fatalf("join = %d: %s", rec.Code, rec.Body)
	}

	rec := f.do(t, "POST", "/api/starts", `{"riderNumber":"101"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start = %d: %s", rec.Code, rec.Body)
	}
	started := decode[models.Rider](t, rec)
	if started.Status != models.StatusOnTrack {
		t.Errorf("started status = %q, want %q", started.Status, models.StatusOnTrack)
	}

	rec = f.do(t, "POST", "/api/starts", `{"riderNumber":"101"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["code"]; got != "ALREADY_ON_TRACK" {
		t.Errorf("code = %q, want ALREADY_ON_TRACK", got)
	}

	f.clock.Advance(90 * time.Second)
	rec = f.do(t, "POST", "/api/finishes", `{"riderNumber":"101"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("finish = %d: %s", rec.Code, rec.Body)
	}
	if got := decode[models.Rider](t, rec).RaceTime; got != "01:30.00" {
		t.Errorf("raceTime = %q, want %q", got, "01:30.00")
	}

	rec = f.do(t, "POST", "/api/finishes", `{"riderNumber":"102"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("finish unknown = %d, want 409", rec.Code)
	}

	rec = f.do(t, "POST", "/api/starts", `{"riderNumber":"101"}`)
	if rec.Code != http.StatusPreconditionRequired {
		t.Errorf("re-run without confirmation = %d, want 428", rec.Code)
	}

	rec = f.do(t, "GET", "/api/results", "")
	ranked := decode[struct {
		Results []map[string]any `json:"results"`
	}](t, rec)
	if len(ranked.Results) != 1 || ranked.Results[0]["durationMs"] != float64(90000) {
		t.Errorf("results = %+v, want one entry with durationMs 90000", ranked.Results)
	}

	rec = f.do(t, "GET", "/api/results.csv", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("csv = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="enduro-1_Results.csv"` {
		t.Errorf("Content-Disposition = %q", got)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d, want 2: %q", len(lines), rec.Body.String())
	}
	if !strings.HasPrefix(lines[1], "1,101,") {
		t.Errorf("first result row = %q", lines[1])
	}
}

func TestCaptureFlow(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.do(t, "PUT", "/api/race", `{"raceId":"enduro-1"}`)
	f.do(t, "POST", "/api/starts", `{"riderNumber":"7"}`)

	f.clock.Advance(5 * time.Minute)
	rec := f.do(t, "POST", "/api/captures", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("capture = %d", rec.Code)
	}
	capture := decode[models.PendingFinishCapture](t, rec)

	f.clock.Advance(time.Minute)
	rec = f.do(t, "POST", "/api/captures/"+capture.ID+"/resolve", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("resolve unassigned = %d, want 400", rec.Code)
	}

	rec = f.do(t, "PUT", "/api/captures/"+capture.ID, `{"riderNumber":"7"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("assign = %d: %s", rec.Code, rec.Body)
	}

	rec = f.do(t, "POST", "/api/captures/"+capture.ID+"/resolve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve = %d: %s", rec.Code, rec.Body)
	}
	if got := decode[models.Rider](t, rec).RaceTime; got != "05:00.00" {
		t.Errorf("raceTime = %q, want %q", got, "05:00.00")
	}

	rec = f.do(t, "GET", "/api/captures", "")
	if got := decode[[]models.PendingFinishCapture](t, rec); len(got) != 0 {
		t.Errorf("captures after resolve = %d, want 0", len(got))
	}

	rec = f.do(t, "DELETE", "/api/captures/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("discard missing = %d, want 404", rec.Code)
	}
}

func TestBackupAndPending(t *testing.T) {
	f := newFixture(t, true, Options{})
	f.do(t, "PUT", "/api/race", `{"raceId":"enduro-1"}`)
	f.do(t, "POST", "/api/connectivity", `{"online":false}`)
	f.do(t, "POST", "/api/starts", `{"riderNumber":"3"}`)

	rec := f.do(t, "GET", "/api/pending", "")
	if got := decode[map[string]any](t, rec)["count"]; got != float64(1) {
		t.Errorf("pending count = %v, want 1", got)
	}

	rec = f.do(t, "GET", "/api/backup/starts?n=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("backup = %d", rec.Code)
	}
	entries := decode[[]models.BackupEntry](t, rec)
	if len(entries) != 1 || entries[0].RiderNumber != "3" {
		t.Errorf("backup entries = %+v", entries)
	}

	if rec := f.do(t, "GET", "/api/backup/laps", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown journal = %d, want 404", rec.Code)
	}

	rec = f.do(t, "POST", "/api/connectivity", `{"online":true}`)
	if got := decode[map[string]any](t, rec)["pending"]; got != float64(0) {
		t.Errorf("pending after reconnect = %v, want 0", got)
	}
}

func TestLoginAndAdminRoutes(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("gravity"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, false, Options{PasswordHash: string(hash), AuthSecret: "secret"})

	if rec := f.do(t, "GET", "/api/race", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rec.Code)
	}

	rec := f.do(t, "POST", "/api/auth/login", `{"name":"marshal","password":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password = %d, want 401", rec.Code)
	}

	login := func(name string) string {
		rec := f.do(t, "POST", "/api/auth/login", `{"name":"`+name+`","password":"gravity"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("login %s = %d: %s", name, rec.Code, rec.Body)
		}
		return "Bearer " + decode[map[string]string](t, rec)["token"]
	}
	marshal := login("marshal")
	chief := login("chief")

	f.do(t, "PUT", "/api/race", `{"raceId":"enduro-1"}`, "Authorization", marshal)

	roster := "number,name,category\n1,Ann,Open\n2,Bob,Masters\n"
	rec = f.do(t, "POST", "/api/riders/import", roster, "Authorization", marshal)
	if rec.Code != http.StatusForbidden {
		t.Errorf("import as marshal = %d, want 403", rec.Code)
	}

	rec = f.do(t, "POST", "/api/riders/import", roster, "Authorization", chief)
	if rec.Code != http.StatusOK {
		t.Fatalf("import as chief = %d: %s", rec.Code, rec.Body)
	}
	report := decode[struct {
		Imported []string `json:"imported"`
	}](t, rec)
	if len(report.Imported) != 2 {
		t.Errorf("imported = %v, want 2 riders", report.Imported)
	}

	rec = f.do(t, "POST", "/api/results/email", `{"to":["a@example.org"]}`, "Authorization", chief)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("email without SMTP = %d, want 503", rec.Code)
	}
}

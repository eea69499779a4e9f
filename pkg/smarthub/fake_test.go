package smarthub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSmartHub serves the three SmartHub endpoints. Each login issues a new
// token named token-N.
type fakeSmartHub struct {
	t *testing.T

	mu         sync.Mutex
	logins     int
	loginQuery []map[string]string
	authStatus int
	authBody   string
	loginDelay time.Duration

	userData       interface{}
	userDataTokens []string
	userDataQuery  []string

	polls      int
	pollTokens []string
	pollBodies []map[string]interface{}
	pollSteps  []func(w http.ResponseWriter)
}

func newFakeSmartHub(t *testing.T) (*fakeSmartHub, *httptest.Server) {
	f := &fakeSmartHub{t: t}
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)
	return f, ts
}

func (f *fakeSmartHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/services/oauth/auth/v2":
		assert.Equal(f.t, "POST", r.Method)
		assert.Equal(f.t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(f.t, "example.smarthub.coop", r.Header.Get("Authority"))
		q := map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		f.mu.Lock()
		f.logins++
		n := f.logins
		f.loginQuery = append(f.loginQuery, q)
		status, body, delay := f.authStatus, f.authBody, f.loginDelay
		f.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if status != 0 {
			w.WriteHeader(status)
		}
		if body != "" {
			_, _ = io.WriteString(w, body)
			return
		}
		if status == 0 {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"authorizationToken": fmt.Sprintf("token-%d", n),
				"primaryUsername":    "primary@example.com",
			})
		}
	case "/services/secured/user-data":
		assert.Equal(f.t, "GET", r.Method)
		assert.Equal(f.t, "user@example.com", r.Header.Get("X-Nisc-Smarthub-Username"))
		f.mu.Lock()
		f.userDataTokens = append(f.userDataTokens, r.Header.Get("Authorization"))
		f.userDataQuery = append(f.userDataQuery, r.URL.Query().Get("userId"))
		data := f.userData
		f.mu.Unlock()
		if s, ok := data.(string); ok {
			_, _ = io.WriteString(w, s)
			return
		}
		_ = json.NewEncoder(w).Encode(data)
	case "/services/secured/utility-usage/poll":
		assert.Equal(f.t, "POST", r.Method)
		assert.Equal(f.t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(f.t, "user@example.com", r.Header.Get("X-Nisc-Smarthub-Username"))
		var body map[string]interface{}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		f.polls++
		f.pollTokens = append(f.pollTokens, r.Header.Get("Authorization"))
		f.pollBodies = append(f.pollBodies, body)
		var step func(w http.ResponseWriter)
		if len(f.pollSteps) > 0 {
			step = f.pollSteps[0]
			if len(f.pollSteps) > 1 {
				f.pollSteps = f.pollSteps[1:]
			}
		}
		f.mu.Unlock()

		if step == nil {
			http.Error(w, "no poll step", http.StatusTeapot)
			return
		}
		step(w)
	default:
		http.Error(w, "not found: "+r.URL.Path, http.StatusNotFound)
	}
}

func (f *fakeSmartHub) counts() (logins, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.polls
}

func statusStep(code int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(code)
	}
}

func jsonStep(v interface{}) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func pendingStep() func(w http.ResponseWriter) {
	return jsonStep(map[string]interface{}{"status": "PENDING"})
}

func completeStep(samples ...[2]float64) func(w http.ResponseWriter) {
	data := make([]map[string]float64, len(samples))
	for i, s := range samples {
		data[i] = map[string]float64{"x": s[0], "y": s[1]}
	}
	return jsonStep(map[string]interface{}{
		"status": "COMPLETE",
		"data": map[string]interface{}{
			"ELECTRIC": []map[string]interface{}{
				{"type": "COST", "series": []interface{}{}},
				{"type": "USAGE", "series": []map[string]interface{}{{"name": "kWh", "data": data}}},
			},
		},
	})
}

func hangupStep() func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			panic("response writer cannot hijack")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			panic(err)
		}
		conn.Close()
	}
}

func newTestClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	loc, err := time.LoadLocation("GMT")
	require.NoError(t, err)
	return &Client{
		cfg: Config{
			Email:      "user@example.com",
			Password:   "pass",
			AccountID:  "123",
			Host:       "example.smarthub.coop",
			Timezone:   "GMT",
			Timeout:    5 * time.Second,
			MaxRetries: DefaultMaxRetries,
		},
		baseURL:  ts.URL,
		loc:      loc,
		now:      time.Now,
		sessions: newSessionManager(SessionTTL, ts.Client),
	}
}

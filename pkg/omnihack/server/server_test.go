package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/norasector/omnihack/pkg/omnihack"
	"github.com/norasector/omnihack/pkg/omnihack/event"
)

type fakeController struct {
	state   omnihack.State
	monitor []bool
	secret  uint32
	seqno   uint8
	status  int
}

func (f *fakeController) Start(ctx context.Context) error {
	if f.state != omnihack.StateStopped {
		return omnihack.ErrAlreadyRunning
	}
	f.state = omnihack.StateRunning
	return nil
}

func (f *fakeController) Stop() error {
	if f.state != omnihack.StateRunning {
		return omnihack.ErrNotRunning
	}
	f.state = omnihack.StateStopping
	return nil
}

func (f *fakeController) Wait() error {
	f.state = omnihack.StateStopped
	return nil
}

func (f *fakeController) Toggle(ctx context.Context) (omnihack.State, error) {
	var err error
	if f.state == omnihack.StateStopped {
		err = f.Start(ctx)
	} else {
		f.Stop()
		err = f.Wait()
	}
	return f.state, err
}

func (f *fakeController) State() omnihack.State       { return f.state }
func (f *fakeController) Topology() omnihack.Topology { return omnihack.TopologyReplay }
func (f *fakeController) SetMonitorMode(on bool)      { f.monitor = append(f.monitor, on) }
func (f *fakeController) SetSecret(secret uint32) {
	f.secret = secret
}
func (f *fakeController) SetSeqno(seqno uint8) { f.seqno = seqno }
func (f *fakeController) StartStatusExchange() { f.status++ }

func do(t *testing.T, h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) stateResponse {
	t.Helper()
	var resp stateResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestLifecycle(t *testing.T) {
	ctrl := &fakeController{}
	h := New(ctrl, WithMonitor(true)).Handler()

	rec := do(t, h, http.MethodPost, "/v1/start", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}
	if got := decodeState(t, rec); got != (stateResponse{State: "running", Topology: "replay", Monitor: true}) {
		t.Errorf("start state %+v", got)
	}

	if rec := do(t, h, http.MethodPost, "/v1/start", "", nil); rec.Code != http.StatusConflict {
		t.Errorf("second start: %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/v1/stop", "", nil)
	if got := decodeState(t, rec); got.State != "stopped" {
		t.Errorf("stop state %+v", got)
	}
	if rec := do(t, h, http.MethodPost, "/v1/stop", "", nil); rec.Code != http.StatusConflict {
		t.Errorf("stop while stopped: %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/v1/toggle", "", nil)
	if got := decodeState(t, rec); got.State != "running" {
		t.Errorf("toggle state %+v", got)
	}
	rec = do(t, h, http.MethodPost, "/v1/toggle", "", nil)
	if got := decodeState(t, rec); got.State != "stopped" {
		t.Errorf("toggle back state %+v", got)
	}
}

func TestParameters(t *testing.T) {
	ctrl := &fakeController{}
	h := New(ctrl).Handler()

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
	}{
		{name: "monitor off", method: http.MethodPut, path: "/v1/monitor", body: `{"on":false}`, wantCode: http.StatusOK},
		{name: "secret", method: http.MethodPut, path: "/v1/secret", body: `{"value":"c504d891"}`, wantCode: http.StatusNoContent},
		{name: "secret too long", method: http.MethodPut, path: "/v1/secret", body: `{"value":"c504d8911"}`, wantCode: http.StatusBadRequest},
		{name: "seqno", method: http.MethodPut, path: "/v1/seqno", body: `{"value":"2a"}`, wantCode: http.StatusNoContent},
		{name: "seqno not hex", method: http.MethodPut, path: "/v1/seqno", body: `{"value":"zz"}`, wantCode: http.StatusBadRequest},
		{name: "bad json", method: http.MethodPut, path: "/v1/monitor", body: `{`, wantCode: http.StatusBadRequest},
		{name: "status", method: http.MethodPost, path: "/v1/status", wantCode: http.StatusAccepted},
		{name: "wrong method", method: http.MethodGet, path: "/v1/start", wantCode: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, tt.method, tt.path, tt.body, nil); rec.Code != tt.wantCode {
				t.Errorf("%s %s: got %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.wantCode, rec.Body)
			}
		})
	}

	if !reflect.DeepEqual(ctrl.monitor, []bool{false}) {
		t.Errorf("monitor calls %v", ctrl.monitor)
	}
	if ctrl.secret != 0xc504d891 {
		t.Errorf("secret %08x", ctrl.secret)
	}
	if ctrl.seqno != 0x2a {
		t.Errorf("seqno %02x", ctrl.seqno)
	}
	if ctrl.status != 1 {
		t.Errorf("status exchanges %d", ctrl.status)
	}
}

func TestEvents(t *testing.T) {
	s := New(&fakeController{}, WithHistory(2))
	s.OnStatus("PDA transceiver started")
	s.OnData("f0a5")
	s.OnFault("rx failed")

	rec := do(t, s.Handler(), http.MethodGet, "/v1/events", "", nil)
	var entries []Entry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Kind+":"+e.Payload)
	}
	if want := []string{"data:f0a5", "fault:rx failed"}; !reflect.DeepEqual(got, want) {
		t.Errorf("events %v, want %v", got, want)
	}

	rec = do(t, s.Handler(), http.MethodGet, "/v1/events?since=2", "", nil)
	entries = nil
	json.NewDecoder(rec.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].Seq != 3 {
		t.Errorf("since=2 returned %+v", entries)
	}

	if rec := do(t, s.Handler(), http.MethodGet, "/v1/events?since=x", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since: %d", rec.Code)
	}
}

func TestEventsKeepPostTime(t *testing.T) {
	s := New(&fakeController{})
	posted := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	s.OnEvent(event.Event{Kind: event.KindData, Payload: "f0a5", Time: posted})

	entries := s.Events(0)
	if len(entries) != 1 {
		t.Fatalf("entries %+v", entries)
	}
	if !entries[0].Time.Equal(posted) {
		t.Errorf("time %v, want %v", entries[0].Time, posted)
	}
}

func TestAuthentication(t *testing.T) {
	const secret = "hunter2"
	h := New(&fakeController{}, WithJWTSecret(secret)).Handler()

	sign := func(method jwt.SigningMethod, key interface{}) string {
		token := jwt.NewWithClaims(method, jwt.MapClaims{
			"sub": "operator",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return signed
	}

	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{name: "no header", wantCode: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer " + sign(jwt.SigningMethodHS256, []byte("other")), wantCode: http.StatusUnauthorized},
		{name: "wrong alg", header: "Bearer " + sign(jwt.SigningMethodHS512, []byte(secret)), wantCode: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + sign(jwt.SigningMethodHS256, []byte(secret)), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Authorization", tt.header)
			}
			if rec := do(t, h, http.MethodGet, "/v1/state", "", header); rec.Code != tt.wantCode {
				t.Errorf("got %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

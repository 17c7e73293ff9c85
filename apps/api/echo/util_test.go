package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
	"github.com/trezcool/suivi/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

// clock drives the request time of the server under test.
type clock struct{ now time.Time }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

type testApp struct {
	server *Server
	env    *testutil.Env
	clock  *clock

	learnerToken string
	otherToken   string
	adminToken   string
}

// setup serves a catalog of two ungated courses, A (scorm a1) and B (document b1), and a course C
// gated by both. Tokens are issued at the start of the clock.
func setup(t *testing.T) *testApp {
	env := testutil.NewEnv(t)
	env.Enroll("c1", "u1", "A", "B", "C")
	env.Enroll("c1", "u2", "A")
	env.AddContent("c1", "A", "a1", progress.Scorm{})
	env.AddContent("c1", "B", "b1", progress.Document{})
	env.Gate("c1", "C", "A", "a1", progress.Scorm{})
	env.Gate("c1", "C", "B", "b1", progress.Document{})

	// tokens are checked against the real clock
	clk := &clock{now: time.Now().UTC().Truncate(time.Second)}
	origNow := nowFunc
	nowFunc = func() time.Time { return clk.now }
	t.Cleanup(func() { nowFunc = origNow })

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	progress.InitValidators(validate, translator)

	server := NewServer(ServerDeps{
		Conf:        env.Conf,
		Logger:      env.Logger,
		ProgressSvc: env.Svc,
		Validate:    validate,
		Translator:  translator,
	})
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })

	return &testApp{
		server:       server,
		env:          env,
		clock:        clk,
		learnerToken: getToken(t, env.Conf, "c1", "u1", false),
		otherToken:   getToken(t, env.Conf, "c1", "u2", false),
		adminToken:   getToken(t, env.Conf, "c1", "admin", true),
	}
}

func (app *testApp) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	app.server.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func getToken(t *testing.T, conf *core.Config, clientID, userID string, isAdmin bool) string {
	token, err := GenerateToken(conf, NewClaims(conf, clientID, userID, isAdmin))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var data map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatalf("decoding %q failed: %v", rec.Body.String(), err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classpulse/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Database.RetryDelay = 0
	cfg.HTTP.Host = "127.0.0.1"
	cfg.Scheduler.Enabled = false
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = -1

	application, err := NewApplication(cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, application)
}

func TestNewApplication_MissingModelFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Classifier.ModelPath = filepath.Join(t.TempDir(), "missing.json")

	_, err := NewApplication(cfg, nil)
	assert.Error(t, err)
}

func TestNewApplication_EmptyModelPathUsesBuiltinWeights(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = freePort(t)
	cfg.Classifier.ModelPath = ""

	application, err := NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, application.Stop(ctx))
}

func TestStoreConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Timeout = 12 * time.Second
	cfg.Database.AutoMigrate = false

	sc := StoreConfig(cfg)
	assert.Equal(t, cfg.Database.Path, sc.Path)
	assert.Equal(t, 12*time.Second, sc.WriteTimeout)
	assert.False(t, sc.AutoMigrate)
	require.NoError(t, sc.Validate())
}

func TestApplication_StartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Port = freePort(t)
	cfg.Scheduler.Enabled = true

	application, err := NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	resp, err := http.Get("http://" + application.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, application.Stop(ctx))
}

// TestApplication_ClassroomFlow walks one class: the instructor creates a
// session and a question, a student joins through the meeting ID, the quiz
// reaches them, they answer, and ending the session notifies them.
func TestApplication_ClassroomFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	application, err := NewApplication(testConfig(t), nil)
	require.NoError(t, err)

	server := httptest.NewServer(application.Handler())
	defer server.Close()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	}()

	var created struct {
		Session struct {
			ID         string `json:"id"`
			ExternalID string `json:"externalId"`
		} `json:"session"`
	}
	resp := postJSON(t, server.URL+"/api/sessions", map[string]string{
		"title": "Algebra", "instructorId": "teacher-1", "externalId": "98765",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &created)
	require.NotEmpty(t, created.Session.ID)

	resp = postJSON(t, server.URL+"/api/questions", map[string]interface{}{
		"question": "2 + 2", "options": []string{"3", "4"}, "correctAnswer": "4",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/session/98765/student-1?name=Ada"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "session_joined", readJSON(t, conn)["type"])

	// trigger by the internal ID; the student sits in the external-ID room
	var trigger struct {
		Outcome string `json:"outcome"`
		Sent    int    `json:"sent"`
	}
	resp = postJSON(t, server.URL+"/api/live/trigger/"+created.Session.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &trigger)
	assert.Equal(t, "sent", trigger.Outcome)
	assert.Equal(t, 1, trigger.Sent)

	quiz := readJSON(t, conn)
	require.Equal(t, "quiz", quiz["type"])
	assert.Equal(t, "student-1", quiz["studentId"])
	assert.Equal(t, "2 + 2", quiz["question"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "answer", "questionId": quiz["questionId"], "answer": "4", "responseTime": 3.5,
	}))
	result := readJSON(t, conn)
	require.Equal(t, "answer_result", result["type"])
	assert.Equal(t, true, result["correct"])

	var summary struct {
		Assignments int `json:"assignments"`
		Responses   int `json:"responses"`
	}
	resp, err = http.Get(server.URL + "/api/sessions/98765/summary")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &summary)
	assert.Equal(t, 1, summary.Assignments)
	assert.Equal(t, 1, summary.Responses)

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/sessions/"+created.Session.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ended := readJSON(t, conn)
	assert.Equal(t, "session_ended", ended["type"])
	assert.Equal(t, created.Session.ID, ended["sessionId"])
}

package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wisefido-vitals/internal/auth"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/models"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const gatewaySecret = "gateway-secret"

type fakeResolver struct {
	doctors  map[string][]string
	families map[string][]string
	err      error
}

func (r *fakeResolver) ListDoctorPatientIDs(_ context.Context, doctorID string) ([]string, error) {
	return r.doctors[doctorID], r.err
}

func (r *fakeResolver) ListActiveFamilyPatientIDs(_ context.Context, familyID string) ([]string, error) {
	return r.families[familyID], r.err
}

type fakeAlerts map[string]*models.Alert

func (f fakeAlerts) GetAlert(_ context.Context, alertID string) (*models.Alert, error) {
	if a, ok := f[alertID]; ok {
		return a, nil
	}
	return nil, errors.New("alert not found")
}

func gatewayConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Gateway.SendBufferSize = 16
	cfg.Gateway.MaxMessageSize = 4096
	cfg.Gateway.WriteWait = time.Second
	cfg.Gateway.PongWait = 5 * time.Second
	cfg.Gateway.ResolveTimeout = time.Second
	cfg.HTTP.AllowedOrigins = []string{"*"}
	return cfg
}

func setupGateway(t *testing.T, resolver *fakeResolver, alerts AlertLookup) (*Hub, *httptest.Server) {
	hub := NewHub(zap.NewNop())
	gw := NewGateway(gatewayConfig(), hub, auth.NewTokenVerifier(gatewaySecret, ""), resolver, alerts, zap.NewNop())
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *gorillawebsocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func issue(t *testing.T, userID string, role auth.Role, ttl time.Duration) string {
	token, err := auth.IssueToken(gatewaySecret, auth.Identity{UserID: userID, Role: role, Name: userID}, ttl)
	require.NoError(t, err)
	return token
}

func readEnvelope(t *testing.T, conn *gorillawebsocket.Conn) map[string]interface{} {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func expectClose(t *testing.T, conn *gorillawebsocket.Conn, code int) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *gorillawebsocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, code, closeErr.Code)
}

func TestGateway_ExpiredTokenClosedWithPolicyViolation(t *testing.T) {
	hub, srv := setupGateway(t, &fakeResolver{doctors: map[string][]string{"doc-1": {"P1"}}}, nil)

	conn := dial(t, srv, issue(t, "doc-1", auth.RoleDoctor, -time.Minute))
	expectClose(t, conn, gorillawebsocket.ClosePolicyViolation)

	assert.Equal(t, 0, hub.ClientCount())
	assert.Empty(t, hub.RoomMembers("P1"))
	assert.Empty(t, hub.DoctorRoomMembers("doc-1"))
}

func TestGateway_MissingTokenClosedWithPolicyViolation(t *testing.T) {
	hub, srv := setupGateway(t, &fakeResolver{}, nil)

	conn := dial(t, srv, "")
	expectClose(t, conn, gorillawebsocket.ClosePolicyViolation)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestGateway_UnknownRoleClosedWithPolicyViolation(t *testing.T) {
	hub, srv := setupGateway(t, &fakeResolver{}, nil)

	conn := dial(t, srv, issue(t, "admin-1", auth.Role("admin"), time.Hour))
	expectClose(t, conn, gorillawebsocket.ClosePolicyViolation)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestGateway_ResolverFailureClosesConnection(t *testing.T) {
	hub, srv := setupGateway(t, &fakeResolver{err: errors.New("db down")}, nil)

	conn := dial(t, srv, issue(t, "doc-1", auth.RoleDoctor, time.Hour))
	expectClose(t, conn, gorillawebsocket.CloseInternalServerErr)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestGateway_ConnectionEstablished(t *testing.T) {
	hub, srv := setupGateway(t, &fakeResolver{
		families: map[string][]string{"fam-1": {"P2"}},
	}, nil)

	conn := dial(t, srv, issue(t, "fam-1", auth.RoleFamily, time.Hour))
	env := readEnvelope(t, conn)

	assert.Equal(t, string(EventConnectionEstablished), env["type"])
	data := env["data"].(map[string]interface{})
	assert.Equal(t, []interface{}{"P2"}, data["patients"])
	assert.Equal(t, "fam-1", data["user"].(map[string]interface{})["userId"])

	assert.Equal(t, []string{"fam-1"}, hub.RoomMembers("P2"))
}

// P1 的 critical_alert 只送达 P1 授权连接，P2 连接收不到
func TestGateway_CriticalAlertFanOut(t *testing.T) {
	hub, srv := setupGateway(t, &fakeResolver{
		doctors:  map[string][]string{"doc-1": {"P1"}},
		families: map[string][]string{"fam-2": {"P2"}},
	}, nil)

	docConn := dial(t, srv, issue(t, "doc-1", auth.RoleDoctor, time.Hour))
	famConn := dial(t, srv, issue(t, "fam-2", auth.RoleFamily, time.Hour))
	readEnvelope(t, docConn)
	readEnvelope(t, famConn)

	hub.BroadcastToPatient("P1", NewEnvelope(EventCriticalAlert, &models.Alert{
		AlertID:   "a-1",
		PatientID: "P1",
		DeviceID:  "D1",
		Severity:  models.SeverityCritical,
		Message:   "CRITICAL ALERT: Heart rate 130 BPM",
	}))

	env := readEnvelope(t, docConn)
	assert.Equal(t, string(EventCriticalAlert), env["type"])
	assert.Contains(t, env["data"].(map[string]interface{})["message"], "Heart rate 130 BPM")

	famConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := famConn.ReadMessage()
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "P2 connection must not receive P1 events, got %v", err)
}

func TestGateway_PingPongAndUnknownMessage(t *testing.T) {
	_, srv := setupGateway(t, &fakeResolver{doctors: map[string][]string{"doc-1": {"P1"}}}, nil)

	conn := dial(t, srv, issue(t, "doc-1", auth.RoleDoctor, time.Hour))
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, string(EventPong), readEnvelope(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe_everything"}))
	env := readEnvelope(t, conn)
	assert.Equal(t, string(EventError), env["type"])

	require.NoError(t, conn.WriteMessage(gorillawebsocket.TextMessage, []byte("not json")))
	assert.Equal(t, string(EventError), readEnvelope(t, conn)["type"])
}

func TestGateway_AcknowledgeAlert(t *testing.T) {
	alerts := fakeAlerts{
		"a-1": {AlertID: "a-1", PatientID: "P1"},
		"a-2": {AlertID: "a-2", PatientID: "P2"},
	}
	_, srv := setupGateway(t, &fakeResolver{
		doctors:  map[string][]string{"doc-1": {"P1"}},
		families: map[string][]string{"fam-1": {"P1"}},
	}, alerts)

	doc := dial(t, srv, issue(t, "doc-1", auth.RoleDoctor, time.Hour))
	fam := dial(t, srv, issue(t, "fam-1", auth.RoleFamily, time.Hour))
	readEnvelope(t, doc)
	readEnvelope(t, fam)

	// 未授权患者
	require.NoError(t, doc.WriteJSON(map[string]interface{}{
		"type": "acknowledge_alert",
		"data": map[string]string{"alertId": "a-2", "patientId": "P2"},
	}))
	env := readEnvelope(t, doc)
	assert.Equal(t, string(EventError), env["type"])

	// 报警不属于该患者
	require.NoError(t, doc.WriteJSON(map[string]interface{}{
		"type": "acknowledge_alert",
		"data": map[string]string{"alertId": "a-2", "patientId": "P1"},
	}))
	assert.Equal(t, string(EventError), readEnvelope(t, doc)["type"])

	// 正常确认：广播到 P1 房间
	require.NoError(t, doc.WriteJSON(map[string]interface{}{
		"type": "acknowledge_alert",
		"data": map[string]string{"alertId": "a-1", "patientId": "P1"},
	}))
	for _, conn := range []*gorillawebsocket.Conn{doc, fam} {
		env := readEnvelope(t, conn)
		assert.Equal(t, string(EventAlertAcknowledged), env["type"])
		data := env["data"].(map[string]interface{})
		assert.Equal(t, "a-1", data["alertId"])
		assert.Equal(t, "doc-1", data["acknowledgedBy"].(map[string]interface{})["userId"])
	}
}

func TestGateway_DisconnectUnregisters(t *testing.T) {
	hub, srv := setupGateway(t, &fakeResolver{doctors: map[string][]string{"doc-1": {"P1"}}}, nil)

	conn := dial(t, srv, issue(t, "doc-1", auth.RoleDoctor, time.Hour))
	readEnvelope(t, conn)
	require.Equal(t, 1, hub.ClientCount())

	conn.WriteMessage(gorillawebsocket.CloseMessage,
		gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
	conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, hub.RoomMembers("P1"))
}

func TestGateway_HubStopClosesConnections(t *testing.T) {
	hub, srv := setupGateway(t, &fakeResolver{doctors: map[string][]string{"doc-1": {"P1"}}}, nil)

	conn := dial(t, srv, issue(t, "doc-1", auth.RoleDoctor, time.Hour))
	readEnvelope(t, conn)

	hub.Stop()
	expectClose(t, conn, gorillawebsocket.CloseGoingAway)
}

// blockingResolver 查询授权患者时阻塞，直到 release 关闭
type blockingResolver struct {
	entered chan struct{}
	release chan struct{}
}

func (r *blockingResolver) ListDoctorPatientIDs(context.Context, string) ([]string, error) {
	close(r.entered)
	<-r.release
	return []string{"P1"}, nil
}

func (r *blockingResolver) ListActiveFamilyPatientIDs(context.Context, string) ([]string, error) {
	return nil, nil
}

// 握手还在解析授权患者时，Wait 不能提前返回
func TestGateway_WaitCoversHandshake(t *testing.T) {
	resolver := &blockingResolver{entered: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(zap.NewNop())
	gw := NewGateway(gatewayConfig(), hub, auth.NewTokenVerifier(gatewaySecret, ""), resolver, nil, zap.NewNop())
	srv := httptest.NewServer(gw)
	defer srv.Close()

	dial(t, srv, issue(t, "doc-1", auth.RoleDoctor, time.Hour))

	select {
	case <-resolver.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not reach resolver")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, gw.Wait(ctx), context.DeadlineExceeded)

	close(resolver.release)
	hub.Stop()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.NoError(t, gw.Wait(ctx2))
}

package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"wisefido-vitals/internal/auth"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/models"

	gorillawebsocket "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenVerifier 校验连接 token
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

// AssignmentResolver 连接时查询授权患者（只查一次）
type AssignmentResolver interface {
	ListDoctorPatientIDs(ctx context.Context, doctorID string) ([]string, error)
	ListActiveFamilyPatientIDs(ctx context.Context, familyID string) ([]string, error)
}

// AlertLookup 确认报警前校验报警归属
type AlertLookup interface {
	GetAlert(ctx context.Context, alertID string) (*models.Alert, error)
}

// Gateway WebSocket 网关：鉴权、解析授权患者、注册到 hub、收发消息
type Gateway struct {
	hub      *Hub
	verifier TokenVerifier
	resolver AssignmentResolver
	alerts   AlertLookup
	upgrader gorillawebsocket.Upgrader
	logger   *zap.Logger

	sendBufferSize int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	resolveTimeout time.Duration

	wg sync.WaitGroup
}

// NewGateway 创建网关；alerts 可以为 nil（不校验报警归属）
func NewGateway(
	cfg *config.Config,
	hub *Hub,
	verifier TokenVerifier,
	resolver AssignmentResolver,
	alerts AlertLookup,
	logger *zap.Logger,
) *Gateway {
	g := &Gateway{
		hub:            hub,
		verifier:       verifier,
		resolver:       resolver,
		alerts:         alerts,
		logger:         logger,
		sendBufferSize: cfg.Gateway.SendBufferSize,
		maxMessageSize: cfg.Gateway.MaxMessageSize,
		writeWait:      cfg.Gateway.WriteWait,
		pongWait:       cfg.Gateway.PongWait,
		resolveTimeout: cfg.Gateway.ResolveTimeout,
	}
	if g.maxMessageSize <= 0 {
		g.maxMessageSize = 4096
	}
	if g.writeWait <= 0 {
		g.writeWait = 10 * time.Second
	}
	if g.pongWait <= 0 {
		g.pongWait = 60 * time.Second
	}
	if g.resolveTimeout <= 0 {
		g.resolveTimeout = 5 * time.Second
	}
	g.pingPeriod = (g.pongWait * 9) / 10

	g.upgrader = gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.HTTP.AllowedOrigins),
	}
	return g
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeHTTP GET /ws?token=<jwt>
// token 只从查询参数读取（浏览器 WebSocket 无法设置自定义头）
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 升级后连接被 hijack，Shutdown 不再等待；握手阶段也要计入 wg
	g.wg.Add(1)
	defer g.wg.Done()

	token := r.URL.Query().Get("token")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	// 1. 鉴权
	identity, err := g.verifier.Verify(token)
	if err != nil {
		g.logger.Info("Rejected WebSocket connection", zap.Error(err))
		g.closeWith(conn, gorillawebsocket.ClosePolicyViolation, policyReason(err))
		return
	}

	// 2. 解析授权患者（快照）
	patients, err := g.resolvePatients(r.Context(), identity)
	if err != nil {
		g.logger.Error("Failed to resolve authorized patients",
			zap.String("user_id", identity.UserID),
			zap.Error(err),
		)
		g.closeWith(conn, gorillawebsocket.CloseInternalServerErr, "failed to resolve patients")
		return
	}

	// 3. 注册
	client := NewClient(*identity, patients, g.sendBufferSize)
	if err := g.hub.Register(client); err != nil {
		g.closeWith(conn, gorillawebsocket.CloseGoingAway, "server shutting down")
		return
	}

	g.hub.Send(client, NewEnvelope(EventConnectionEstablished, ConnectionEstablished{
		User:     client.User(),
		Patients: client.Patients(),
	}))

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.writePump(conn, client)
	}()
	go func() {
		defer g.wg.Done()
		g.readPump(conn, client)
	}()
}

// Wait 等待所有连接的收发协程退出
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func policyReason(err error) string {
	if errors.Is(err, auth.ErrUnknownRole) {
		return "unknown role"
	}
	return "invalid token"
}

func (g *Gateway) resolvePatients(ctx context.Context, identity *auth.Identity) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.resolveTimeout)
	defer cancel()

	switch identity.Role {
	case auth.RoleDoctor:
		return g.resolver.ListDoctorPatientIDs(ctx, identity.UserID)
	case auth.RoleFamily:
		return g.resolver.ListActiveFamilyPatientIDs(ctx, identity.UserID)
	default:
		return nil, fmt.Errorf("%w: %q", auth.ErrUnknownRole, identity.Role)
	}
}

func (g *Gateway) closeWith(conn *gorillawebsocket.Conn, code int, reason string) {
	msg := gorillawebsocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(gorillawebsocket.CloseMessage, msg, time.Now().Add(g.writeWait)); err != nil {
		g.logger.Debug("Failed to write close frame", zap.Error(err))
	}
	conn.Close()
}

// readPump 读取客户端控制消息；退出时注销连接
func (g *Gateway) readPump(conn *gorillawebsocket.Conn, client *Client) {
	defer func() {
		g.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(g.maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(g.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(g.pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				g.logger.Warn("WebSocket read error",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
			}
			return
		}
		g.handleControl(client, data)
	}
}

// writePump 唯一的写协程：事件、pong/error 回复、心跳 ping
func (g *Gateway) writePump(conn *gorillawebsocket.Conn, client *Client) {
	ticker := time.NewTicker(g.pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Outbound():
			conn.SetWriteDeadline(time.Now().Add(g.writeWait))
			if !ok {
				// hub 已注销该连接
				conn.WriteMessage(gorillawebsocket.CloseMessage,
					gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				g.logger.Debug("WebSocket write error", zap.String("client_id", client.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(g.writeWait))
			if err := conn.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) handleControl(client *Client, data []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		g.replyError(client, "invalid message")
		return
	}

	switch msg.Type {
	case ControlPing:
		g.hub.Send(client, NewEnvelope(EventPong, nil))
	case ControlAcknowledgeAlert:
		g.acknowledgeAlert(client, msg.Data)
	default:
		g.replyError(client, fmt.Sprintf("unsupported message type: %s", msg.Type))
	}
}

// acknowledgeAlert 只允许确认授权患者的报警，结果广播到患者房间
func (g *Gateway) acknowledgeAlert(client *Client, raw json.RawMessage) {
	var req AcknowledgeAlertRequest
	if len(raw) == 0 || json.Unmarshal(raw, &req) != nil || req.AlertID == "" || req.PatientID == "" {
		g.replyError(client, "acknowledge_alert requires alertId and patientId")
		return
	}
	if !client.Authorized(req.PatientID) {
		g.replyError(client, "not authorized for patient")
		return
	}

	if g.alerts != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.resolveTimeout)
		alert, err := g.alerts.GetAlert(ctx, req.AlertID)
		cancel()
		if err != nil || alert.PatientID != req.PatientID {
			g.replyError(client, "alert not found for patient")
			return
		}
	}

	g.hub.BroadcastToPatient(req.PatientID, NewEnvelope(EventAlertAcknowledged, AlertAcknowledged{
		AlertID:        req.AlertID,
		PatientID:      req.PatientID,
		AcknowledgedBy: client.User(),
		AcknowledgedAt: time.Now().UTC(),
	}))

	g.logger.Info("Alert acknowledged",
		zap.String("alert_id", req.AlertID),
		zap.String("patient_id", req.PatientID),
		zap.String("user_id", client.UserID),
	)
}

func (g *Gateway) replyError(client *Client, message string) {
	g.hub.Send(client, NewEnvelope(EventError, ErrorMessage{Message: message}))
}

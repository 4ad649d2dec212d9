package websocket

import (
	"errors"
	"sort"
	"sync"
	"time"

	"wisefido-vitals/internal/auth"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrHubStopped hub 已停止，不再接受新连接
var ErrHubStopped = errors.New("hub stopped")

// Client 一个实时连接（授权患者集合在连接时确定，之后不变）
type Client struct {
	ID          string
	UserID      string
	Role        auth.Role
	Name        string
	ConnectedAt time.Time

	patients []string
	allowed  map[string]struct{}
	send     chan []byte
}

// NewClient 创建连接
func NewClient(identity auth.Identity, patientIDs []string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	patients := make([]string, 0, len(patientIDs))
	allowed := make(map[string]struct{}, len(patientIDs))
	for _, id := range patientIDs {
		if _, dup := allowed[id]; dup || id == "" {
			continue
		}
		allowed[id] = struct{}{}
		patients = append(patients, id)
	}

	return &Client{
		ID:          uuid.New().String(),
		UserID:      identity.UserID,
		Role:        identity.Role,
		Name:        identity.Name,
		ConnectedAt: time.Now(),
		patients:    patients,
		allowed:     allowed,
		send:        make(chan []byte, bufferSize),
	}
}

// Patients 授权患者快照（副本）
func (c *Client) Patients() []string {
	out := make([]string, len(c.patients))
	copy(out, c.patients)
	return out
}

// Authorized 是否可以查看该患者
func (c *Client) Authorized(patientID string) bool {
	_, ok := c.allowed[patientID]
	return ok
}

// Outbound 待发送消息；hub 注销连接时关闭
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

// User 连接用户信息
func (c *Client) User() UserInfo {
	return UserInfo{UserID: c.UserID, Role: string(c.Role), Name: c.Name}
}

// Hub 连接注册表 + 房间路由
//
// 所有连接/房间状态由同一把锁保护，注册和注销同时更新注册表和所有房间。
// 广播持读锁做非阻塞发送，缓冲已满的连接直接跳过。
type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	patientRooms map[string]map[*Client]struct{}
	doctorRooms  map[string]map[*Client]struct{}
	stopped      bool
	logger       *zap.Logger
}

// NewHub 创建 hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]struct{}),
		patientRooms: make(map[string]map[*Client]struct{}),
		doctorRooms:  make(map[string]map[*Client]struct{}),
		logger:       logger,
	}
}

// Register 注册连接并加入其所有患者房间；医生额外加入自己的房间
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return ErrHubStopped
	}
	if _, ok := h.clients[client]; ok {
		return nil
	}

	h.clients[client] = struct{}{}
	for _, patientID := range client.patients {
		join(h.patientRooms, patientID, client)
	}
	if client.Role == auth.RoleDoctor {
		join(h.doctorRooms, client.UserID, client)
	}

	h.logger.Info("Client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.String("role", string(client.Role)),
		zap.Int("patients", len(client.patients)),
	)
	return nil
}

// Unregister 注销连接并退出所有房间（幂等）
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unregisterLocked(client)
}

func (h *Hub) unregisterLocked(client *Client) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}

	for _, patientID := range client.patients {
		leave(h.patientRooms, patientID, client)
	}
	if client.Role == auth.RoleDoctor {
		leave(h.doctorRooms, client.UserID, client)
	}
	delete(h.clients, client)
	close(client.send)

	h.logger.Info("Client unregistered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
	)
	return true
}

// BroadcastToPatient 推送到患者房间，返回成功入队的连接数
func (h *Hub) BroadcastToPatient(patientID string, event Envelope) int {
	return h.broadcast(h.patientRooms, patientID, event)
}

// BroadcastToDoctor 推送到医生自己的房间
func (h *Hub) BroadcastToDoctor(doctorID string, event Envelope) int {
	return h.broadcast(h.doctorRooms, doctorID, event)
}

func (h *Hub) broadcast(rooms map[string]map[*Client]struct{}, key string, event Envelope) int {
	data, err := event.Marshal()
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range rooms[key] {
		if h.trySend(client, data) {
			delivered++
		}
	}
	return delivered
}

// Send 直接发送给单个连接（握手确认、pong、error）
func (h *Hub) Send(client *Client, event Envelope) bool {
	data, err := event.Marshal()
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[client]; !ok {
		return false
	}
	return h.trySend(client, data)
}

// trySend 调用方持有读锁（close 只在写锁下发生）
func (h *Hub) trySend(client *Client, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
		h.logger.Warn("Client send buffer full, dropping event",
			zap.String("client_id", client.ID),
			zap.String("user_id", client.UserID),
		)
		return false
	}
}

// Stop 注销所有连接并拒绝新连接
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true
	for client := range h.clients {
		h.unregisterLocked(client)
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount 当前非空患者房间数
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.patientRooms)
}

// RoomMembers 患者房间内的用户 ID（排序副本）
func (h *Hub) RoomMembers(patientID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return memberIDs(h.patientRooms[patientID])
}

// DoctorRoomMembers 医生房间内的用户 ID
func (h *Hub) DoctorRoomMembers(doctorID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return memberIDs(h.doctorRooms[doctorID])
}

func join(rooms map[string]map[*Client]struct{}, key string, client *Client) {
	if rooms[key] == nil {
		rooms[key] = make(map[*Client]struct{})
	}
	rooms[key][client] = struct{}{}
}

func leave(rooms map[string]map[*Client]struct{}, key string, client *Client) {
	members, ok := rooms[key]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(rooms, key)
	}
}

func memberIDs(members map[*Client]struct{}) []string {
	seen := make(map[string]struct{}, len(members))
	ids := make([]string, 0, len(members))
	for client := range members {
		if _, ok := seen[client.UserID]; ok {
			continue
		}
		seen[client.UserID] = struct{}{}
		ids = append(ids, client.UserID)
	}
	sort.Strings(ids)
	return ids
}

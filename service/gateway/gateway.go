package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"PulseChat/logger"
	"PulseChat/module/update/bridge"
	"PulseChat/module/update/model"
	ustore "PulseChat/module/update/store"
	"PulseChat/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 流式网关：把桥接层订阅翻成 websocket 帧。一个连接一个订阅，
// 连接断了订阅跟着撤，在线状态由桥接层维护。

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

type Server struct {
	bridge  *bridge.Bridge
	updates *ustore.UpdateStore
	srv     *http.Server
}

func NewServer(addr string, b *bridge.Bridge, updates *ustore.UpdateStore) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{bridge: b, updates: updates}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", s.handleWS)
	r.GET("/updates", s.handleTimeline)

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// handleTimeline 断线补偿：拉 since_ms 之后落库的 Update
func (s *Server) handleTimeline(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	userID := c.Query("user_id")
	if tenantID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and user_id required"})
		return
	}
	sinceMS, _ := strconv.ParseInt(c.Query("since_ms"), 10, 64)
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)

	list, err := s.updates.ListByRecipient(c.Request.Context(), tenantID, userID, sinceMS, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updates": list})
}

func (s *Server) handleWS(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	userID := c.Query("user_id")
	userType := c.DefaultQuery("user_type", "user")
	if tenantID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and user_id required"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[gateway] upgrade websocket error: %v", err)
		return
	}
	defer func() {
		if err := ws.Close(); err != nil {
			logger.Infof("[gateway] close websocket error: %v", err)
		}
	}()

	// 写协程独占连接写端，订阅回调只往 channel 投
	outbox := make(chan *model.Update, 64)
	handle, err := s.bridge.Subscribe(c.Request.Context(), tenantID, userID, userType, "",
		func(u *model.Update) {
			select {
			case outbox <- u:
			default:
				// 慢消费者丢帧：时间线兜底补齐，不拖垮其他连接
				logger.Warnf("[gateway] outbox full, frame dropped | user=%s update=%s", userID, u.UpdateID)
			}
		})
	if err != nil {
		logger.Errorf("[gateway] subscribe failed | tenant=%s user=%s: %v", tenantID, userID, err)
		return
	}
	defer func() {
		if err := handle.Cancel(); err != nil {
			logger.Infof("[gateway] cancel subscription error: %v", err)
		}
	}()
	logger.Infof("[gateway] connected | tenant=%s user=%s conn=%s", tenantID, userID, handle.ConnID)

	done := make(chan struct{})
	safe.SafeGo(func() { s.writeLoop(ws, outbox, done) })

	// 读循环只处理控制帧，业务写入不走网关
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[gateway] peer closed | conn=%s", handle.ConnID)
			} else {
				logger.Infof("[gateway] read err | conn=%s err=%v", handle.ConnID, err)
			}
			break
		}
	}
	close(done)
}

func (s *Server) writeLoop(ws *websocket.Conn, outbox <-chan *model.Update, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case u := <-outbox:
			data, err := json.Marshal(u)
			if err != nil {
				logger.Errorf("[gateway] marshal update %s: %v", u.UpdateID, err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *Server) Start() {
	safe.SafeGo(func() {
		logger.Infof("gateway listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("gateway server: %v", err)
		}
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

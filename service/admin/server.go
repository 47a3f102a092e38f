package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"PulseChat/logger"
	cmodel "PulseChat/module/counter/model"
	"PulseChat/module/counter/readtask"
	"PulseChat/module/counter/recalc"
	cstore "PulseChat/module/counter/store"
	"PulseChat/tools/ids"
	"PulseChat/tools/safe"

	"github.com/gin-gonic/gin"
)

// 运维入口：重算与批量已读都是异步任务，接口只收单（202），
// 执行进度看日志和任务表。

type Server struct {
	runner   *recalc.Runner
	tasks    readtask.Tasks
	counters cstore.Ops
	srv      *http.Server
}

func NewServer(addr string, runner *recalc.Runner, tasks readtask.Tasks, counters cstore.Ops) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{runner: runner, tasks: tasks, counters: counters}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/admin/recalc/jobs", s.listJobs)
	r.POST("/admin/recalc", s.triggerRecalc)
	r.POST("/admin/read-task", s.enqueueReadTask)
	r.GET("/admin/counters/unread", s.getUnread)
	r.GET("/admin/counters/stats", s.getStats)

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.runner.JobNames()})
}

type recalcReq struct {
	Job   string       `json:"job" binding:"required"`
	Scope recalc.Scope `json:"scope" binding:"required"`
}

// triggerRecalc 收单即返回 202，任务进后台跑
func (s *Server) triggerRecalc(c *gin.Context) {
	var req recalcReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	safe.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		_ = s.runner.Run(ctx, req.Job, req.Scope)
	})
	c.JSON(http.StatusAccepted, gin.H{"job": req.Job, "scope": req.Scope})
}

type readTaskReq struct {
	TenantID string `json:"tenant_id" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
	DialogID string `json:"dialog_id" binding:"required"`
	UpToMS   int64  `json:"up_to_ms"`
}

func (s *Server) enqueueReadTask(c *gin.Context) {
	var req readTaskReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	taskID, err := s.tasks.Enqueue(c.Request.Context(), req.TenantID, req.UserID, req.DialogID, req.UpToMS)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"task_id": taskID}
	// 任务 id 是雪花号，能还原首次入队时刻（合并单保留首单时间）
	if id, perr := strconv.ParseInt(taskID, 10, 64); perr == nil {
		resp["enqueued_at"] = ids.TimeOf(id).UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusAccepted, resp)
}

// getUnread 排障用的计数读取：dialog / topic / pack 三个维度
func (s *Server) getUnread(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	userID := c.Query("user_id")
	if tenantID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and user_id required"})
		return
	}
	ctx := c.Request.Context()

	var v int64
	var err error
	switch {
	case c.Query("topic_id") != "":
		v, err = cstore.GetTopicUnread(ctx, s.counters, tenantID, userID, c.Query("dialog_id"), c.Query("topic_id"))
	case c.Query("dialog_id") != "":
		v, err = cstore.GetDialogUnread(ctx, s.counters, tenantID, userID, c.Query("dialog_id"))
	case c.Query("pack_id") != "":
		v, err = cstore.GetPackUnread(ctx, s.counters, tenantID, userID, c.Query("pack_id"))
	default:
		v, err = cstore.GetUserStat(ctx, s.counters, tenantID, userID, cmodel.FieldUnreadTotal)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": v})
}

func (s *Server) getStats(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	field := c.Query("field")
	if tenantID == "" || field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and field required"})
		return
	}
	ctx := c.Request.Context()

	var v int64
	var err error
	switch {
	case c.Query("dialog_id") != "":
		v, err = cstore.GetDialogStat(ctx, s.counters, tenantID, c.Query("dialog_id"), field)
	case c.Query("pack_id") != "":
		v, err = cstore.GetPackStat(ctx, s.counters, tenantID, c.Query("pack_id"), field)
	case c.Query("user_id") != "":
		v, err = cstore.GetUserStat(ctx, s.counters, tenantID, c.Query("user_id"), field)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "dialog_id, pack_id or user_id required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"field": field, "value": v})
}

func (s *Server) Start() {
	safe.SafeGo(func() {
		logger.Infof("admin server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("admin server: %v", err)
		}
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

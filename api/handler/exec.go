package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/sshexpect/internal/database"
	"github.com/sshcollectorpro/sshexpect/internal/service"
	"github.com/sshcollectorpro/sshexpect/pkg/expect"
	"github.com/sshcollectorpro/sshexpect/pkg/logger"
)

// Executor 批量执行器，*service.Runner 实现该接口
type Executor interface {
	Run(ctx context.Context, req service.RunRequest) (*service.RunResponse, error)
}

// PoolStater 会话池统计
type PoolStater interface {
	Stats() expect.PoolStats
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExecHandler 命令执行处理器
type ExecHandler struct {
	executor Executor
	pool     PoolStater
	started  time.Time
}

// NewExecHandler 创建命令执行处理器
func NewExecHandler(executor Executor, pool PoolStater) *ExecHandler {
	return &ExecHandler{executor: executor, pool: pool, started: time.Now()}
}

// Health 健康检查
// @Router /api/v1/health [get]
func (h *ExecHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.pool != nil {
		resp["sessions"] = h.pool.Stats()
	}
	if database.GetDB() != nil {
		if err := database.Health(); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
		} else {
			resp["database"] = "ok"
			resp["database_stats"] = database.GetStats()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Exec 在一个或多个目标上执行命令
// @Summary 批量执行命令
// @Accept json
// @Produce json
// @Param request body service.RunRequest true "执行请求"
// @Success 200 {object} service.RunResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/exec [post]
func (h *ExecHandler) Exec(c *gin.Context) {
	var req service.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warnf("Invalid exec request: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}

	resp, err := h.executor.Run(c.Request.Context(), req)
	if err != nil {
		logger.Warnf("Exec request rejected: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "VALIDATION_FAILED",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListRecords 查询命令记录
// @Param host query string false "目标主机"
// @Param run_id query string false "执行ID"
// @Param limit query int false "返回条数，默认100"
// @Router /api/v1/records [get]
func (h *ExecHandler) ListRecords(c *gin.Context) {
	if database.GetDB() == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "DB_UNAVAILABLE", Message: "数据库未初始化"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := database.ListRecords(database.RecordQuery{
		Host:  c.Query("host"),
		RunID: c.Query("run_id"),
		Limit: limit,
	})
	if err != nil {
		logger.Errorf("List records failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(records), "records": records})
}

// GetRun 查询执行记录
// @Router /api/v1/runs/{id} [get]
func (h *ExecHandler) GetRun(c *gin.Context) {
	if database.GetDB() == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "DB_UNAVAILABLE", Message: "数据库未初始化"})
		return
	}
	run, err := database.GetRun(c.Param("id"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "RUN_NOT_FOUND", Message: "执行记录不存在: " + c.Param("id")})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

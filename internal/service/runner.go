package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sshcollectorpro/sshexpect/addone/interact"
	"github.com/sshcollectorpro/sshexpect/internal/config"
	"github.com/sshcollectorpro/sshexpect/internal/database"
	"github.com/sshcollectorpro/sshexpect/internal/model"
	"github.com/sshcollectorpro/sshexpect/pkg/expect"
	"github.com/sshcollectorpro/sshexpect/pkg/logger"
	sshc "github.com/sshcollectorpro/sshexpect/pkg/ssh"
)

// SessionSource 会话来源，*expect.Pool 实现该接口
type SessionSource interface {
	Get(ctx context.Context, info *sshc.ConnectionInfo) (*expect.Session, error)
	Release(s *expect.Session)
	Discard(s *expect.Session)
}

// Target 执行目标
type Target struct {
	Name     string   `json:"name"`
	Host     string   `json:"host" binding:"required"`
	Port     int      `json:"port"`
	Username string   `json:"username" binding:"required"`
	Password string   `json:"password"`
	// Platform 设备平台，决定关闭分页等准备命令，见 addone/interact
	Platform string   `json:"platform"`
	Commands []string `json:"commands"`
	// Metadata 传给平台插件，如 {"paging": true} 保留分页
	Metadata map[string]interface{} `json:"metadata"`
}

// RunRequest 批量执行请求
type RunRequest struct {
	Targets []Target `json:"targets" binding:"required,min=1,dive"`
	// Commands 未单独指定命令的目标使用该列表
	Commands     []string `json:"commands"`
	ReturnStatus *bool    `json:"return_status"`
	Concurrent   int      `json:"concurrent"`
	// SaveTranscript 是否写入会话记录文件
	SaveTranscript bool `json:"save_transcript"`
}

// CommandResult 单条命令结果
type CommandResult struct {
	Command  string   `json:"command"`
	Lines    []string `json:"lines"`
	Status   int      `json:"status"`
	Error    string   `json:"error,omitempty"`
	Duration int64    `json:"duration_ms"`
}

// TargetResult 单个目标结果
type TargetResult struct {
	Name       string          `json:"name"`
	Host       string          `json:"host"`
	Port       int             `json:"port"`
	Prompt     string          `json:"prompt"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Commands   []CommandResult `json:"commands"`
}

// RunResponse 批量执行结果
type RunResponse struct {
	RunID    string         `json:"run_id"`
	Status   string         `json:"status"`
	Duration int64          `json:"duration_ms"`
	Results  []TargetResult `json:"results"`
}

// Runner 在多个目标上并发执行命令
type Runner struct {
	settings atomic.Pointer[config.RunnerConfig]
	source   SessionSource
	storage  StorageWriter
}

// NewRunner 创建执行器；storage 为 nil 时不写会话记录
func NewRunner(cfg *config.Config, source SessionSource, storage StorageWriter) *Runner {
	r := &Runner{source: source, storage: storage}
	r.UpdateConfig(cfg)
	return r
}

// UpdateConfig 热更新执行参数，可与 Run 并发调用
func (r *Runner) UpdateConfig(cfg *config.Config) {
	rc := cfg.Runner
	r.settings.Store(&rc)
}

// Run 执行请求，单个目标失败不影响其它目标
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResponse, error) {
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("no targets")
	}
	for i, t := range req.Targets {
		if strings.TrimSpace(t.Host) == "" {
			return nil, fmt.Errorf("target %d: host is required", i)
		}
		if len(t.Commands) == 0 && len(req.Commands) == 0 {
			return nil, fmt.Errorf("target %s: no commands", t.Host)
		}
	}

	settings := r.settings.Load()
	returnStatus := settings.ReturnStatus
	if req.ReturnStatus != nil {
		returnStatus = *req.ReturnStatus
	}
	concurrent := req.Concurrent
	if concurrent <= 0 {
		concurrent = settings.Concurrent
	}
	if concurrent <= 0 {
		concurrent = 1
	}

	start := time.Now()
	run := &model.Run{
		ID:          uuid.NewString(),
		Status:      model.RunStatusRunning,
		TargetCount: len(req.Targets),
		StartTime:   start,
	}
	r.saveRun(run)

	results := make([]TargetResult, len(req.Targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrent)
	for i, t := range req.Targets {
		i, t := i, t
		if len(t.Commands) == 0 {
			t.Commands = req.Commands
		}
		g.Go(func() error {
			results[i] = r.runTarget(gctx, run.ID, t, returnStatus, req.SaveTranscript)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Success {
			run.Succeeded++
		} else {
			run.Failed++
		}
	}
	switch {
	case run.Failed == 0:
		run.Status = model.RunStatusSuccess
	case run.Succeeded == 0:
		run.Status = model.RunStatusFailed
	default:
		run.Status = model.RunStatusPartial
	}
	run.EndTime = time.Now()
	run.Duration = run.EndTime.Sub(start).Milliseconds()
	r.saveRun(run)

	logger.Infof("Run %s finished: %d succeeded, %d failed in %dms", run.ID, run.Succeeded, run.Failed, run.Duration)
	return &RunResponse{
		RunID:    run.ID,
		Status:   run.Status,
		Duration: run.Duration,
		Results:  results,
	}, nil
}

func (r *Runner) runTarget(ctx context.Context, runID string, t Target, returnStatus, save bool) TargetResult {
	started := time.Now()
	name := t.Name
	if name == "" {
		name = t.Host
	}
	port := t.Port
	if port <= 0 {
		port = 22
	}
	result := TargetResult{Name: name, Host: t.Host, Port: port, Commands: []CommandResult{}}

	info := &sshc.ConnectionInfo{Host: t.Host, Port: port, Username: t.Username, Password: t.Password}
	s, err := r.source.Get(ctx, info)
	if err != nil {
		result.Error = err.Error()
		logger.Warnf("Target %s: %v", info.Address(), err)
		return result
	}
	result.Prompt = s.Prompt()

	// 出错后会话状态未知（可能残留输出），不放回池中
	broken := false
	defer func() {
		if broken {
			r.source.Discard(s)
		} else {
			r.source.Release(s)
		}
	}()

	plugin := interact.Get(t.Platform)
	plan := plugin.TransformCommands(interact.CommandTransformInput{Commands: t.Commands, Metadata: t.Metadata})
	var sendOpts []expect.SendOption
	if d := plugin.Defaults().Timeout; d > 0 {
		sendOpts = append(sendOpts, expect.WithTimeout(time.Duration(d)*time.Second))
	}
	for _, cmd := range plan.Setup {
		if _, err := s.Send(ctx, cmd, sendOpts...); err != nil {
			broken = true
			result.Error = fmt.Sprintf("setup command %q failed: %v", cmd, err)
			logger.Warnf("Target %s: %s", name, result.Error)
			return result
		}
	}

	var transcript strings.Builder
	records := make([]model.CommandRecord, 0, len(plan.Commands))
	failed := false
	for _, cmd := range plan.Commands {
		cmdStart := time.Now()
		cr := CommandResult{Command: cmd}
		if returnStatus {
			cr.Lines, cr.Status, err = s.SendStatus(ctx, cmd, sendOpts...)
		} else {
			cr.Lines, err = s.Send(ctx, cmd, sendOpts...)
		}
		cr.Duration = time.Since(cmdStart).Milliseconds()
		if err != nil {
			cr.Error = err.Error()
			failed = true
			broken = true
			if errors.Is(err, expect.ErrConnectionLost) {
				logger.Warnf("Target %s: connection lost during %q", name, cmd)
			}
		}
		if cr.Lines == nil {
			cr.Lines = []string{}
		}
		result.Commands = append(result.Commands, cr)

		// 提示符可能因重连改变
		result.Prompt = s.Prompt()
		fmt.Fprintf(&transcript, "%s%s %s\n", s.Prompt(), s.Terminator(), cmd)
		for _, ln := range cr.Lines {
			transcript.WriteString(ln)
			transcript.WriteByte('\n')
		}

		records = append(records, model.CommandRecord{
			ID:         uuid.NewString(),
			RunID:      runID,
			Host:       t.Host,
			Port:       port,
			Username:   t.Username,
			Prompt:     s.Prompt(),
			Command:    cmd,
			Output:     strings.Join(cr.Lines, "\n"),
			LineCount:  len(cr.Lines),
			ExitStatus: cr.Status,
			ErrorMsg:   cr.Error,
			Duration:   cr.Duration,
		})
		if err != nil {
			// 连接丢失或上下文取消后，后续命令无意义
			break
		}
	}
	result.Success = !failed
	if failed && result.Error == "" {
		result.Error = "one or more commands failed"
	}

	if save && r.storage != nil {
		obj, err := r.storage.Write(ctx, TranscriptMeta{
			RunID:     runID,
			Target:    t.Name,
			Host:      t.Host,
			Port:      port,
			Username:  t.Username,
			StartedAt: started,
		}, transcript.String())
		if err != nil {
			logger.Warnf("Target %s: write transcript failed: %v", name, err)
		} else {
			result.Transcript = obj.URI
			for i := range records {
				records[i].Transcript = obj.URI
			}
		}
	}

	if database.GetDB() != nil {
		if err := database.SaveRecords(records); err != nil {
			logger.Errorf("Target %s: save records failed: %v", name, err)
		}
	}
	return result
}

func (r *Runner) saveRun(run *model.Run) {
	if database.GetDB() == nil {
		return
	}
	if err := database.SaveRun(run); err != nil {
		logger.Errorf("Save run %s failed: %v", run.ID, err)
	}
}

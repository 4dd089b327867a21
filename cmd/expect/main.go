package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sshcollectorpro/sshexpect/internal/config"
	"github.com/sshcollectorpro/sshexpect/pkg/expect"
	"github.com/sshcollectorpro/sshexpect/pkg/logger"
	sshc "github.com/sshcollectorpro/sshexpect/pkg/ssh"
)

type commandList []string

func (c *commandList) String() string     { return strings.Join(*c, ";") }
func (c *commandList) Set(v string) error { *c = append(*c, v); return nil }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run 返回进程退出码，保证 defer 的断开与信号清理在退出前执行
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("expect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "配置文件路径（为空时按默认目录查找）")
		target     = fs.String("target", "", "预置目标名称或主机")
		host       = fs.String("host", "", "目标主机")
		port       = fs.Int("port", 22, "目标端口")
		user       = fs.String("user", "", "用户名")
		password   = fs.String("password", os.Getenv("SSH_EXPECT_PASSWORD"), "密码")
		terminator = fs.String("terminator", "", "提示符结束符，覆盖配置")
		status     = fs.Bool("status", false, "同时输出退出码")
		commands   commandList
	)
	fs.Var(&commands, "c", "要执行的命令，可重复指定")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}

	info := &sshc.ConnectionInfo{Host: *host, Port: *port, Username: *user, Password: *password}
	if *target != "" {
		t, ok := cfg.Target(*target)
		if !ok {
			fmt.Fprintf(stderr, "Unknown target %q\n", *target)
			return 2
		}
		info = t.ConnectionInfo()
		if len(commands) == 0 {
			commands = t.Commands
		}
	}
	commands = append(commands, fs.Args()...)
	if info.Host == "" || info.Username == "" || len(commands) == 0 {
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := cfg.SessionOptions()
	if *terminator != "" {
		opts.Terminator = *terminator
	}
	s := expect.NewSession(info, opts)
	if !s.Connect(ctx, opts.WaitTimeout, opts.ConnectTimeout) {
		fmt.Fprintf(stderr, "Failed to connect %s\n", info.Address())
		return 1
	}
	defer s.Disconnect()

	exitCode := 0
	for _, cmd := range commands {
		fmt.Fprintf(stdout, "%s%s %s\n", s.Prompt(), s.Terminator(), cmd)
		var (
			lines []string
			code  int
		)
		if *status {
			lines, code, err = s.SendStatus(ctx, cmd)
		} else {
			lines, err = s.Send(ctx, cmd)
		}
		for _, ln := range lines {
			fmt.Fprintln(stdout, ln)
		}
		if err != nil {
			fmt.Fprintf(stderr, "Command %q failed: %v\n", cmd, err)
			exitCode = 1
			break
		}
		if *status {
			fmt.Fprintf(stdout, "[exit status %d]\n", code)
		}
	}
	return exitCode
}

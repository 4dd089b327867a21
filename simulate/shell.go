package simulate

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/sshexpect/pkg/logger"
)

// unknownCommand 未匹配命令的回显
const unknownCommand = "% Invalid input detected at '^' marker.\r\n"

// shell 单个交互式会话
type shell struct {
	cfg        *Config
	ch         ssh.Channel
	dev        device
	suffix     string
	lastStatus int
	reader     *bufio.Reader
	skipLF     bool
	onInput    func()
}

func newShell(cfg *Config, ch ssh.Channel, dev device) *shell {
	return &shell{
		cfg:    cfg,
		ch:     ch,
		dev:    dev,
		suffix: dev.kind.PromptSuffix,
		reader: bufio.NewReader(ch),
	}
}

func (sh *shell) prompt() string {
	return sh.dev.hostname + sh.suffix
}

func (sh *shell) write(s string) {
	_, _ = sh.ch.Write([]byte(s))
}

// readLine 读取一行输入，\r、\n 与 \r\n 均视为行结束
func (sh *shell) readLine() (string, error) {
	var b strings.Builder
	for {
		c, err := sh.reader.ReadByte()
		if err != nil {
			return b.String(), err
		}
		if c == '\n' && sh.skipLF {
			sh.skipLF = false
			continue
		}
		sh.skipLF = false
		switch c {
		case '\r':
			sh.skipLF = true
			return b.String(), nil
		case '\n':
			return b.String(), nil
		}
		b.WriteByte(c)
	}
}

// run 运行交互循环，返回会话退出码
func (sh *shell) run() int {
	if sh.cfg.IdleSeconds > 0 {
		idle := time.Duration(sh.cfg.IdleSeconds) * time.Second
		timer := time.AfterFunc(idle, func() {
			sh.write("\r\nSession closed due to idle timeout.\r\n")
			_ = sh.ch.Close()
		})
		defer timer.Stop()
		sh.onInput = func() { timer.Reset(idle) }
	}

	if sh.dev.kind.Banner != "" {
		sh.write(ensureCRLF(sh.dev.kind.Banner))
	}
	sh.write(sh.prompt())

	for {
		line, err := sh.readLine()
		if err != nil {
			logger.Debugf("Simulate: session of %s ended: %v", sh.dev.name, err)
			return sh.lastStatus
		}
		if sh.onInput != nil {
			sh.onInput()
		}
		// 终端回显
		sh.write(line + "\r\n")

		cmd := strings.TrimSpace(line)
		switch {
		case cmd == "":
		case equalAny(cmd, "exit", "quit", "logout"):
			return 0
		case sh.dev.kind.EnableModeRequired && strings.EqualFold(cmd, "enable"):
			sh.enable()
		default:
			out, status := sh.output(cmd)
			sh.lastStatus = status
			sh.write(out)
		}
		sh.write(sh.prompt())
	}
}

// enable 提权，密码输入不回显
func (sh *shell) enable() {
	sh.write("Password: ")
	pwd, err := sh.readLine()
	sh.write("\r\n")
	if err != nil || strings.TrimSpace(pwd) != sh.cfg.EnablePassword {
		sh.write("% Bad secrets\r\n")
		sh.lastStatus = 1
		return
	}
	sh.suffix = sh.dev.kind.EnableModeSuffix
	if strings.TrimSpace(sh.suffix) == "" {
		sh.suffix = "#"
	}
	sh.lastStatus = 0
}

// 各平台关闭分页的命令，无输出
var pagingCommands = []string{"terminal length 0", "screen-length 0 temporary", "screen-length disable"}

// output 返回命令输出与退出码
func (sh *shell) output(cmd string) (string, int) {
	if cmd == "echo $?" {
		return fmt.Sprintf("%d\r\n", sh.lastStatus), 0
	}
	if equalAny(cmd, pagingCommands...) {
		return "", 0
	}
	if out, ok := sh.dev.kind.Commands[strings.ToLower(cmd)]; ok {
		return ensureCRLF(out), 0
	}
	if out, ok := sh.loadCommandOutput(cmd); ok {
		return out, 0
	}
	logger.Debugf("Simulate: %s unmatched command %q", sh.dev.name, cmd)
	return unknownCommand, 127
}

// loadCommandOutput 从 <output_dir>/<device>/<cmd>.txt 读取，空格可替换为下划线
func (sh *shell) loadCommandOutput(cmd string) (string, bool) {
	if sh.cfg.OutputDir == "" || !safeFileName(cmd) || !safeFileName(sh.dev.name) {
		return "", false
	}
	base := filepath.Join(sh.cfg.OutputDir, sh.dev.name)
	for _, name := range []string{cmd, strings.ReplaceAll(cmd, " ", "_")} {
		if bs, err := os.ReadFile(filepath.Join(base, name+".txt")); err == nil {
			return ensureCRLF(string(bs)), true
		}
	}
	return "", false
}

// safeFileName 命令文本作为文件名时不得包含路径分隔符或 ".."
func safeFileName(cmd string) bool {
	return cmd != "" && !strings.ContainsAny(cmd, `/\`) && !strings.Contains(cmd, "..") &&
		filepath.Base(cmd) == cmd
}

// ensureCRLF 将换行规范为 \r\n 并保证以行结束符结尾
func ensureCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}

func equalAny(s string, opts ...string) bool {
	for _, o := range opts {
		if strings.EqualFold(strings.TrimSpace(s), o) {
			return true
		}
	}
	return false
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sshcollectorpro/sshexpect/pkg/expect"
	sshc "github.com/sshcollectorpro/sshexpect/pkg/ssh"
	"github.com/sshcollectorpro/sshexpect/simulate"
)

func main() {
	configPath := flag.String("config", "configs/simulate.yaml", "模拟器配置文件")
	device := flag.String("device", "lab-r1", "设备名（作为用户名）")
	flag.Parse()

	cfg, err := simulate.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("load simulate config:", err)
		os.Exit(1)
	}
	// 监听随机端口，避免与常驻模拟器冲突
	cfg.Listen = "127.0.0.1:0"
	sim, err := simulate.NewServer(cfg)
	if err != nil {
		fmt.Println("create simulator:", err)
		os.Exit(1)
	}
	if err := sim.Start(); err != nil {
		fmt.Println("start simulator:", err)
		os.Exit(1)
	}
	defer sim.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	info := &sshc.ConnectionInfo{
		Host:     "127.0.0.1",
		Port:     sim.Port(),
		Username: *device,
		Password: cfg.Password,
	}
	terminator := ">"
	if dn, ok := cfg.DeviceName[*device]; ok {
		if dt, ok := cfg.DeviceType[dn.DeviceType]; ok && dt.PromptSuffix != "" {
			terminator = dt.PromptSuffix
		}
	}
	s := expect.NewSession(info, expect.Options{
		Terminator: terminator,
		SettleWait: 300 * time.Millisecond,
	})
	if !s.Connect(ctx, time.Second, 5*time.Second) {
		fmt.Println("connect failed")
		os.Exit(1)
	}
	defer s.Disconnect()
	fmt.Printf("prompt=%q terminator=%q\n", s.Prompt(), s.Terminator())

	cmds := flag.Args()
	if len(cmds) == 0 {
		cmds = []string{"show version", "show clock"}
	}
	for _, cmd := range cmds {
		lines, code, err := s.SendStatus(ctx, cmd)
		if err != nil {
			fmt.Printf("%s error: %v\n", cmd, err)
			continue
		}
		fmt.Printf("%s (status %d):\n", cmd, code)
		for _, ln := range lines {
			fmt.Println("  " + ln)
		}
	}
}

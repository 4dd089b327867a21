package h3c_s

import "github.com/sshcollectorpro/sshexpect/addone/interact"

// Plugin 为 H3C Comware 平台交互插件（交换机与路由器）
type Plugin struct{}

func (p *Plugin) Name() string { return "h3c_s" }

func (p *Plugin) Defaults() interact.InteractDefaults {
	return interact.InteractDefaults{Timeout: 45}
}

func (p *Plugin) TransformCommands(in interact.CommandTransformInput) interact.CommandTransformOutput {
	// 关闭分页，避免长命令输出被暂停
	return interact.WithPaging(in, "screen-length disable")
}

func init() {
	interact.Register("h3c_s", &Plugin{})
	interact.Register("h3c_sr", &Plugin{})
	interact.Register("h3c_msr", &Plugin{})
}

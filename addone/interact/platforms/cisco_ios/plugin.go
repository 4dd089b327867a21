package cisco_ios

import "github.com/sshcollectorpro/sshexpect/addone/interact"

// Plugin 为 cisco_ios 平台交互插件
type Plugin struct{}

func (p *Plugin) Name() string { return "cisco_ios" }

func (p *Plugin) Defaults() interact.InteractDefaults {
	// show tech 一类命令输出较长
	return interact.InteractDefaults{Timeout: 60}
}

func (p *Plugin) TransformCommands(in interact.CommandTransformInput) interact.CommandTransformOutput {
	return interact.WithPaging(in, "terminal length 0")
}

func init() {
	interact.Register("cisco_ios", &Plugin{})
	interact.Register("cisco_xe", &Plugin{})
}

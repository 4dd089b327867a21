package huawei_s

import "github.com/sshcollectorpro/sshexpect/addone/interact"

// Plugin 为华为 VRP 平台交互插件（S/CE 系列）
type Plugin struct{}

func (p *Plugin) Name() string { return "huawei_s" }

func (p *Plugin) Defaults() interact.InteractDefaults {
	return interact.InteractDefaults{Timeout: 45}
}

func (p *Plugin) TransformCommands(in interact.CommandTransformInput) interact.CommandTransformOutput {
	return interact.WithPaging(in, "screen-length 0 temporary")
}

func init() {
	interact.Register("huawei_s", &Plugin{})
	interact.Register("huawei_ce", &Plugin{})
	interact.Register("huawei_vrp", &Plugin{})
}

package interact

// InteractDefaults 平台默认运行参数
type InteractDefaults struct {
	Timeout int // 单条命令超时（秒），0 使用会话配置
}

// CommandTransformInput 输入命令与元数据
type CommandTransformInput struct {
	Commands []string
	Metadata map[string]interface{}
}

// CommandTransformOutput 转换后的命令
type CommandTransformOutput struct {
	// Setup 会话准备命令（如关闭分页），输出不计入结果
	Setup    []string
	Commands []string
}

// InteractPlugin 交互插件接口
type InteractPlugin interface {
	// Name 插件名称（如：default、cisco_ios、huawei_s）
	Name() string
	// Defaults 返回插件的默认运行参数
	Defaults() InteractDefaults
	// TransformCommands 根据平台特性转换命令序列
	TransformCommands(in CommandTransformInput) CommandTransformOutput
}

// DefaultPlugin 系统默认交互插件
type DefaultPlugin struct{}

func (p *DefaultPlugin) Name() string { return "default" }

func (p *DefaultPlugin) Defaults() InteractDefaults {
	return InteractDefaults{}
}

func (p *DefaultPlugin) TransformCommands(in CommandTransformInput) CommandTransformOutput {
	// 默认不做任何转换
	return CommandTransformOutput{Commands: append([]string{}, in.Commands...)}
}

// WithPaging 在命令前插入关闭分页的准备命令；metadata["paging"]=true 时保留分页
func WithPaging(in CommandTransformInput, disable string) CommandTransformOutput {
	out := CommandTransformOutput{Commands: append([]string{}, in.Commands...)}
	if keep, ok := in.Metadata["paging"].(bool); ok && keep {
		return out
	}
	out.Setup = []string{disable}
	return out
}

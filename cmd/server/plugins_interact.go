package main

// 注册交互平台插件
import (
	_ "github.com/sshcollectorpro/sshexpect/addone/interact/platforms/cisco_ios"
	_ "github.com/sshcollectorpro/sshexpect/addone/interact/platforms/h3c_s"
	_ "github.com/sshcollectorpro/sshexpect/addone/interact/platforms/huawei_s"
)

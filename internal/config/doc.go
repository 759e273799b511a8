// Package config 负责加载守护进程与命令行共用的配置文件（JSON 或 YAML），
// 并为未填写的字段补全默认值。
package config

// Package app 按配置装配账本及其外围组件，供守护进程与命令行共用。
package app

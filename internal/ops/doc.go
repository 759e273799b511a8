// Package ops 实现异步调用管道：调用以操作的形式入队，由工作协程加盖时间戳后交给账本串行执行，
// 执行结果（回执、拒绝原因或基础设施错误）回写到操作存储中。
package ops

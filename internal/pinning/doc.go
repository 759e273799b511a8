// Package pinning 将智能体元数据与容器镜像固定到 IPFS，返回的网关地址即登记簿中的内容指针。
package pinning

// =============================================================================
// 文件: internal/transport/resolver.go
// 描述: 目标主机解析 (主机名或 IPv4 字面量 -> IPv4 地址)
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/singleflight"
)

// lookupFunc 与 net.Resolver.LookupIPAddr 签名一致
type lookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// Resolver 主机解析器, 并发解析同一主机时只发起一次查询
type Resolver struct {
	lookup lookupFunc
	group  singleflight.Group
}

// NewResolver 创建解析器
func NewResolver() *Resolver {
	return &Resolver{lookup: net.DefaultResolver.LookupIPAddr}
}

// Resolve 解析目标主机, 只返回 IPv4 地址
func (r *Resolver) Resolve(ctx context.Context, host string) (net.IP, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: 空主机名", ErrInvalidName)
	}

	// IP 字面量不做 DNS 查询
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("%w: %s 不是 IPv4 地址", ErrInvalidName, host)
	}

	v, err, _ := r.group.Do(host, func() (interface{}, error) {
		addrs, err := r.lookup(ctx, host)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			if v4 := a.IP.To4(); v4 != nil {
				return v4, nil
			}
		}
		return nil, fmt.Errorf("没有 IPv4 记录")
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidName, host, err)
	}

	return v.(net.IP), nil
}

package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolveLiteral(t *testing.T) {
	r := NewResolver()
	r.lookup = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		t.Fatalf("IP 字面量不应查询 DNS: %s", host)
		return nil, nil
	}

	ip, err := r.Resolve(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if !ip.Equal(net.IPv4(127, 0, 0, 1)) || len(ip) != net.IPv4len {
		t.Errorf("结果错误: %v", ip)
	}
}

func TestResolveInvalid(t *testing.T) {
	r := NewResolver()
	r.lookup = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		switch host {
		case "v6only.test":
			return []net.IPAddr{{IP: net.ParseIP("::1")}}, nil
		}
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}

	for _, host := range []string{"", "::1", "missing.test", "v6only.test"} {
		t.Run(host, func(t *testing.T) {
			if _, err := r.Resolve(context.Background(), host); !errors.Is(err, ErrInvalidName) {
				t.Errorf("应返回 ErrInvalidName: %v", err)
			}
		})
	}
}

func TestResolveHostname(t *testing.T) {
	r := NewResolver()
	r.lookup = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		return []net.IPAddr{
			{IP: net.ParseIP("2001:db8::1")},
			{IP: net.ParseIP("192.0.2.7")},
		}, nil
	}

	ip, err := r.Resolve(context.Background(), "receiver.test")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if !ip.Equal(net.ParseIP("192.0.2.7")) {
		t.Errorf("应选择第一个 IPv4 地址: %v", ip)
	}
}

func TestResolveSingleflight(t *testing.T) {
	var calls int32
	release := make(chan struct{})

	r := NewResolver()
	r.lookup = func(ctx context.Context, host string) ([]net.IPAddr, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []net.IPAddr{{IP: net.ParseIP("192.0.2.9")}}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve(context.Background(), "shared.test"); err != nil {
				t.Errorf("解析失败: %v", err)
			}
		}()
	}

	// 等待所有调用进入 singleflight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got < 1 || got >= n {
		t.Errorf("并发查询未合并: %d 次", got)
	}
}

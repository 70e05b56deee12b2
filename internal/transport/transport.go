// Package transport 创建带代理支持的HTTP传输层
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"blob-relay/config"
)

// CreateTransport 根据代理配置创建HTTP传输
// 支持http/https代理和socks5代理，未启用代理时返回默认调优的传输
func CreateTransport(cfg *config.Config) (*http.Transport, error) {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	if !cfg.Proxy.Enabled {
		return transport, nil
	}

	switch cfg.Proxy.Type {
	case "http", "https":
		proxyURL, err := buildProxyURL(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)

	case "socks5":
		addr := proxyAddress(cfg.Proxy)
		var auth *proxy.Auth
		if cfg.Proxy.Username != "" {
			auth = &proxy.Auth{User: cfg.Proxy.Username, Password: cfg.Proxy.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
			if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
				return contextDialer.DialContext(ctx, network, address)
			}
			return dialer.Dial(network, address)
		}

	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", cfg.Proxy.Type)
	}

	return transport, nil
}

// buildProxyURL 从配置构建代理URL，优先使用完整URL配置
func buildProxyURL(cfg config.ProxyConfig) (*url.URL, error) {
	if cfg.URL != "" {
		proxyURL, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		return proxyURL, nil
	}

	proxyURL := &url.URL{
		Scheme: cfg.Type,
		Host:   proxyAddress(cfg),
	}
	if cfg.Username != "" {
		proxyURL.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return proxyURL, nil
}

func proxyAddress(cfg config.ProxyConfig) string {
	if cfg.URL != "" {
		if u, err := url.Parse(cfg.URL); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

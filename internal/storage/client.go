// Package storage 提供基于重试引擎的块存储客户端
// 所有节点访问都经过执行引擎，自动获得重试、熔断和负载均衡能力。
package storage

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"blob-relay/config"
	"blob-relay/internal/endpoint"
	"blob-relay/internal/retry"
	"blob-relay/internal/transport"
)

// Client 块存储客户端
// 对节点池执行PUT/GET/DELETE，单个调用内部可能跨多个节点重试。
type Client struct {
	engine     *retry.Engine
	httpClient *http.Client
}

// NewClient 创建块存储客户端
func NewClient(engine *retry.Engine, cfg *config.Config) (*Client, error) {
	httpTransport, err := transport.CreateTransport(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP transport: %w", err)
	}

	return &Client{
		engine: engine,
		httpClient: &http.Client{
			Transport: httpTransport,
			// 超时交给引擎的per_attempt_timeout控制
			Timeout: 0,
		},
	}, nil
}

// Put 写入一个块
func (c *Client) Put(ctx context.Context, key string, data []byte) error {
	_, err := c.engine.Execute(ctx, func(ctx context.Context, ep *endpoint.Endpoint) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, blobURL(ep, key), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, nil
		}
		return nil, &retry.StatusError{Code: resp.StatusCode, Message: fmt.Sprintf("put %s", key)}
	}, fmt.Sprintf("put:%s", key))
	return err
}

// Get 读取一个块，自动按Content-Encoding解压
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := c.engine.Execute(ctx, func(ctx context.Context, ep *endpoint.Endpoint) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL(ep, key), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, resp.Body)
			return nil, &retry.StatusError{Code: resp.StatusCode, Message: fmt.Sprintf("get %s", key)}
		}

		data, err := readAndDecompress(resp, ep.Config.Name)
		if err != nil {
			return nil, err
		}
		return data, nil
	}, fmt.Sprintf("get:%s", key))
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Delete 删除一个块，404视为成功
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.engine.Execute(ctx, func(ctx context.Context, ep *endpoint.Endpoint) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, blobURL(ep, key), nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if (resp.StatusCode >= 200 && resp.StatusCode < 300) || resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, &retry.StatusError{Code: resp.StatusCode, Message: fmt.Sprintf("delete %s", key)}
	}, fmt.Sprintf("delete:%s", key))
	return err
}

// Exists 检查块是否存在
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.engine.Execute(ctx, func(ctx context.Context, ep *endpoint.Endpoint) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, blobURL(ep, key), nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return true, nil
		case resp.StatusCode == http.StatusNotFound:
			return false, nil
		default:
			return nil, &retry.StatusError{Code: resp.StatusCode, Message: fmt.Sprintf("head %s", key)}
		}
	}, fmt.Sprintf("exists:%s", key))
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func blobURL(ep *endpoint.Endpoint, key string) string {
	return strings.TrimSuffix(ep.Config.URL, "/") + "/blobs/" + key
}

// readAndDecompress 按Content-Encoding头部解压响应体
func readAndDecompress(resp *http.Response, nodeName string) ([]byte, error) {
	contentEncoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	var reader io.Reader
	switch contentEncoding {
	case "", "identity":
		reader = resp.Body
	case "gzip":
		slog.Debug(fmt.Sprintf("🗜️ [存储] 检测到gzip编码响应，节点: %s", nodeName))
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	case "deflate":
		slog.Debug(fmt.Sprintf("🗜️ [存储] 检测到deflate编码响应，节点: %s", nodeName))
		flateReader := flate.NewReader(resp.Body)
		defer flateReader.Close()
		reader = flateReader
	case "br":
		slog.Debug(fmt.Sprintf("🗜️ [存储] 检测到brotli编码响应，节点: %s", nodeName))
		reader = brotli.NewReader(resp.Body)
	default:
		return nil, fmt.Errorf("unsupported content encoding: %s", contentEncoding)
	}

	start := time.Now()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if contentEncoding != "" && contentEncoding != "identity" {
		slog.Debug(fmt.Sprintf("🗜️ [存储] 解压完成，节点: %s, 解压后: %d字节, 耗时: %v",
			nodeName, len(data), time.Since(start)))
	}
	return data, nil
}

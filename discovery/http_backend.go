package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/xerrors"
)

// httpBackend 基于 REST 注册中心的后端实现
//
// 注册中心接口约定：
//
//	POST /services/register        JSON(ServiceInstance)
//	POST /services/deregister      {"id": "..."}
//	POST /services/{id}/heartbeat
//	GET  /services/discover?name=X[&version=Y] -> JSON([]ServiceInstance)
type httpBackend struct {
	baseURL string
	client  *http.Client
	logger  clog.Logger
}

func newHTTPBackend(cfg *Config, logger clog.Logger) *httpBackend {
	return &httpBackend{
		baseURL: strings.TrimRight(cfg.RegistryURL, "/"),
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger,
	}
}

func (b *httpBackend) Register(ctx context.Context, instance *ServiceInstance) error {
	return b.post(ctx, "/services/register", instance)
}

func (b *httpBackend) Deregister(ctx context.Context, instanceID string) error {
	return b.post(ctx, "/services/deregister", map[string]string{"id": instanceID})
}

func (b *httpBackend) Heartbeat(ctx context.Context, instanceID string) error {
	endpoint := fmt.Sprintf("%s/services/%s/heartbeat", b.baseURL, url.PathEscape(instanceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return xerrors.Wrap(err, "build heartbeat request")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return xerrors.Wrapf(ErrRegistryUnavailable, "heartbeat: %v", err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return xerrors.Wrapf(ErrInstanceUnknown, "instance %s", instanceID)
	case resp.StatusCode >= 300:
		return xerrors.Wrapf(ErrRegistryUnavailable, "heartbeat: status %d", resp.StatusCode)
	}
	return nil
}

func (b *httpBackend) Fetch(ctx context.Context, serviceName, version string) ([]*ServiceInstance, error) {
	endpoint := fmt.Sprintf("%s/services/discover?name=%s", b.baseURL, url.QueryEscape(serviceName))
	if version != "" {
		endpoint += "&version=" + url.QueryEscape(version)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "build discover request")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, xerrors.Wrapf(ErrRegistryUnavailable, "discover: %v", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 300 {
		return nil, xerrors.Wrapf(ErrRegistryUnavailable, "discover: status %d", resp.StatusCode)
	}

	var instances []*ServiceInstance
	if err := json.NewDecoder(resp.Body).Decode(&instances); err != nil {
		return nil, xerrors.Wrap(err, "decode discover response")
	}
	return instances, nil
}

func (b *httpBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// post 发送 JSON 请求体并检查状态码
func (b *httpBackend) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return xerrors.Wrap(err, "encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return xerrors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return xerrors.Wrapf(ErrRegistryUnavailable, "%s: %v", path, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode >= 300 {
		return xerrors.Wrapf(ErrRegistryUnavailable, "%s: status %d", path, resp.StatusCode)
	}
	return nil
}

// drainAndClose 读尽并关闭响应体，保证连接可复用
func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}

package adapter

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"jeutaime/internal/pkg/httpclient"
	"jeutaime/internal/pkg/nacos"
	"jeutaime/internal/service/economy/domain"
)

const checkoutSessionsPath = "/v1/checkout/sessions"

// EndpointResolver 返回支付网关的基础地址，例如 http://10.0.0.5:8080
type EndpointResolver func(ctx context.Context) (string, error)

// StaticEndpoint 使用配置中固定的地址
func StaticEndpoint(baseURL string) EndpointResolver {
	return func(context.Context) (string, error) {
		return strings.TrimRight(baseURL, "/"), nil
	}
}

// NacosEndpoint 每次调用时通过 Nacos 选出一个健康实例
func NacosEndpoint(client *nacos.Client, serviceName string) EndpointResolver {
	return func(context.Context) (string, error) {
		addr, err := client.Resolve(serviceName)
		if err != nil {
			return "", err
		}
		return "http://" + addr, nil
	}
}

type openSessionRequest struct {
	Amount int64  `json:"amount"`
	Kind   string `json:"kind"`
}

type openSessionResponse struct {
	SessionToken string `json:"sessionToken"`
}

// PaymentHTTPAdapter 实现了 port.PaymentGateway，通过 HTTP 向支付网关申请结账会话
type PaymentHTTPAdapter struct {
	client   *httpclient.Client
	endpoint EndpointResolver
}

func NewPaymentHTTPAdapter(client *httpclient.Client, endpoint EndpointResolver) *PaymentHTTPAdapter {
	return &PaymentHTTPAdapter{client: client, endpoint: endpoint}
}

func (a *PaymentHTTPAdapter) OpenSession(ctx context.Context, amount int64, kind domain.PurchaseKind) (string, error) {
	base, err := a.endpoint(ctx)
	if err != nil {
		return "", errors.Wrap(err, "resolve payment gateway")
	}
	var resp openSessionResponse
	if err := a.client.PostJSON(ctx, base+checkoutSessionsPath, openSessionRequest{Amount: amount, Kind: string(kind)}, &resp); err != nil {
		return "", errors.Wrap(err, "open checkout session")
	}
	if resp.SessionToken == "" {
		return "", errors.New("payment gateway returned an empty session token")
	}
	return resp.SessionToken, nil
}

// internal/pkg/nacos/client.go
package nacos

import (
	"net"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"

	"jeutaime/internal/pkg/logger"
)

const defaultGroup = "DEFAULT_GROUP"

// Options 是连接 Nacos 所需的参数
type Options struct {
	// ServerAddrs 形如 "ip1:port1,ip2:port2"
	ServerAddrs string
	Namespace   string
	Group       string
}

// Instance 描述一个注册到 Nacos 的服务实例
type Instance struct {
	Service  string
	IP       string
	Port     int
	Metadata map[string]string
}

// Client 包装 naming client，所有操作都落在同一个分组内
type Client struct {
	naming naming_client.INamingClient
	group  string
}

// ParseServerAddrs 把逗号分隔的地址列表转换为 SDK 的 ServerConfig
func ParseServerAddrs(addrs string) ([]constant.ServerConfig, error) {
	var out []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil || host == "" {
			return nil, errors.Errorf("nacos: bad server address %q", addr)
		}
		p, err := strconv.ParseUint(port, 10, 64)
		if err != nil {
			return nil, errors.Errorf("nacos: bad port in %q", addr)
		}
		out = append(out, *constant.NewServerConfig(host, p))
	}
	if len(out) == 0 {
		return nil, errors.New("nacos: no server address configured")
	}
	return out, nil
}

// NewNacosClient 建立 naming client
func NewNacosClient(opts Options) (*Client, error) {
	log := logger.L()
	if opts.Group == "" {
		opts.Group = defaultGroup
	}
	if opts.Namespace == "" {
		log.Warn().Msg("⚠️ nacos namespace is empty, falling back to public")
	}

	servers, err := ParseServerAddrs(opts.ServerAddrs)
	if err != nil {
		return nil, err
	}
	cc := constant.NewClientConfig(
		constant.WithNamespaceId(opts.Namespace),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
	)
	naming, err := clients.NewNamingClient(vo.NacosClientParam{ClientConfig: cc, ServerConfigs: servers})
	if err != nil {
		return nil, errors.Wrap(err, "nacos: create naming client")
	}

	log.Info().Str("servers", opts.ServerAddrs).Str("group", opts.Group).Msg("✅ Connected to Nacos.")
	return &Client{naming: naming, group: opts.Group}, nil
}

// Register 注册临时实例，进程退出后心跳中断会被自动摘除
func (c *Client) Register(inst Instance) error {
	ok, err := c.naming.RegisterInstance(vo.RegisterInstanceParam{
		ServiceName: inst.Service,
		GroupName:   c.group,
		Ip:          inst.IP,
		Port:        uint64(inst.Port),
		Metadata:    inst.Metadata,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
	})
	if err != nil {
		return errors.Wrapf(err, "nacos: register %s", inst.Service)
	}
	if !ok {
		return errors.Errorf("nacos: register %s was rejected", inst.Service)
	}
	logger.L().Info().Str("service", inst.Service).Str("ip", inst.IP).Int("port", inst.Port).Msg("✅ Registered to Nacos.")
	return nil
}

func (c *Client) Deregister(inst Instance) error {
	_, err := c.naming.DeregisterInstance(vo.DeregisterInstanceParam{
		ServiceName: inst.Service,
		GroupName:   c.group,
		Ip:          inst.IP,
		Port:        uint64(inst.Port),
		Ephemeral:   true,
	})
	if err != nil {
		return errors.Wrapf(err, "nacos: deregister %s", inst.Service)
	}
	logger.L().Info().Str("service", inst.Service).Msg("ℹ️ Deregistered from Nacos.")
	return nil
}

// Resolve 按权重选出一个健康实例，返回 "host:port"
func (c *Client) Resolve(service string) (string, error) {
	inst, err := c.naming.SelectOneHealthyInstance(vo.SelectOneHealthInstanceParam{
		ServiceName: service,
		GroupName:   c.group,
	})
	if err != nil {
		return "", errors.Wrapf(err, "nacos: resolve %s", service)
	}
	if inst == nil {
		return "", errors.Errorf("nacos: no healthy instance of %s", service)
	}
	return net.JoinHostPort(inst.Ip, strconv.FormatUint(inst.Port, 10)), nil
}

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/fabric/clog"
	"github.com/ceyewan/fabric/connector"
	"github.com/ceyewan/fabric/xerrors"
)

// etcdBackend 基于 Etcd 租约的后端实现
//
// 存储结构采用层级 Key：
//
//	<namespace>/<service_name>/<instance_id> -> JSON(ServiceInstance)
//
// 实例与租约绑定，心跳通过租约续约实现；租约过期后实例自动消失。
type etcdBackend struct {
	client    *clientv3.Client
	namespace string
	leaseTTL  int64
	logger    clog.Logger

	mu     sync.Mutex
	leases map[string]leaseEntry // instanceID -> lease
}

type leaseEntry struct {
	leaseID clientv3.LeaseID
	key     string
}

// NewEtcd 创建基于 Etcd 后端的 Discovery 实例
//
// discovery 借用 Etcd 连接器的连接，不负责连接的生命周期。
func NewEtcd(conn connector.EtcdConnector, cfg *Config, opts ...Option) (Discovery, error) {
	if conn == nil {
		return nil, xerrors.New("discovery: etcd connector is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	client := conn.GetClient()
	if client == nil {
		return nil, connector.ErrNotConnected
	}

	opt := defaultOptions()
	for _, o := range opts {
		o(opt)
	}

	backend := &etcdBackend{
		client:    client,
		namespace: cfg.Namespace,
		leaseTTL:  int64(cfg.LeaseTTL.Seconds()),
		logger:    opt.logger,
		leases:    make(map[string]leaseEntry),
	}
	return newDiscovery(backend, cfg, opt)
}

func (b *etcdBackend) instanceKey(serviceName, instanceID string) string {
	return fmt.Sprintf("%s/%s/%s", b.namespace, serviceName, instanceID)
}

func (b *etcdBackend) Register(ctx context.Context, instance *ServiceInstance) error {
	payload, err := json.Marshal(instance)
	if err != nil {
		return xerrors.Wrap(err, "encode instance")
	}

	lease, err := b.client.Grant(ctx, b.leaseTTL)
	if err != nil {
		return xerrors.Wrapf(ErrRegistryUnavailable, "grant lease: %v", err)
	}

	key := b.instanceKey(instance.Name, instance.ID)
	if _, err := b.client.Put(ctx, key, string(payload), clientv3.WithLease(lease.ID)); err != nil {
		return xerrors.Wrapf(ErrRegistryUnavailable, "put instance: %v", err)
	}

	b.mu.Lock()
	b.leases[instance.ID] = leaseEntry{leaseID: lease.ID, key: key}
	b.mu.Unlock()

	b.logger.Debug("instance registered in etcd",
		clog.String("key", key),
		clog.Int64("lease_id", int64(lease.ID)))
	return nil
}

func (b *etcdBackend) Deregister(ctx context.Context, instanceID string) error {
	b.mu.Lock()
	entry, ok := b.leases[instanceID]
	delete(b.leases, instanceID)
	b.mu.Unlock()

	if !ok {
		return nil
	}

	// 撤销租约会级联删除实例 Key
	if _, err := b.client.Revoke(ctx, entry.leaseID); err != nil {
		return xerrors.Wrapf(ErrRegistryUnavailable, "revoke lease: %v", err)
	}
	return nil
}

func (b *etcdBackend) Heartbeat(ctx context.Context, instanceID string) error {
	b.mu.Lock()
	entry, ok := b.leases[instanceID]
	b.mu.Unlock()

	if !ok {
		return xerrors.Wrapf(ErrInstanceUnknown, "instance %s", instanceID)
	}

	if _, err := b.client.KeepAliveOnce(ctx, entry.leaseID); err != nil {
		if xerrors.Is(err, rpctypes.ErrLeaseNotFound) {
			b.mu.Lock()
			delete(b.leases, instanceID)
			b.mu.Unlock()
			return xerrors.Wrapf(ErrInstanceUnknown, "lease expired for instance %s", instanceID)
		}
		return xerrors.Wrapf(ErrRegistryUnavailable, "keepalive: %v", err)
	}
	return nil
}

func (b *etcdBackend) Fetch(ctx context.Context, serviceName, version string) ([]*ServiceInstance, error) {
	prefix := fmt.Sprintf("%s/%s/", b.namespace, serviceName)
	resp, err := b.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, xerrors.Wrapf(ErrRegistryUnavailable, "get prefix: %v", err)
	}

	instances := make([]*ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		instance := &ServiceInstance{}
		if err := json.Unmarshal(kv.Value, instance); err != nil {
			b.logger.Warn("skipping malformed instance record",
				clog.String("key", string(kv.Key)),
				clog.Error(err))
			continue
		}
		if version != "" && instance.Version != version {
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func (b *etcdBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leases = make(map[string]leaseEntry)
	return nil
}
